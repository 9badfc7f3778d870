package notify

import (
	"fmt"
	"time"

	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/media"
)

const (
	footerText   = "LiveLaunch Notifications"
	launchURLFmt = "https://spacelaunchnow.me/launch/%s/"
	eventURLFmt  = "https://spacelaunchnow.me/event/%s/"
	defaultColor = 0xFFFF00
)

var statusColors = map[models.Status]int{
	models.StatusGo:             0x00FF00,
	models.StatusTBD:            0xFF0000,
	models.StatusSuccess:        0x00FF00,
	models.StatusFailure:        0xFF0000,
	models.StatusHold:           0xFFFF00,
	models.StatusInFlight:       0x0000FF,
	models.StatusPartialFailure: 0xFF7F00,
	models.StatusTBC:            0xFF7F00,
	models.StatusDeployed:       0x00FFFF,
}

// Payload is one message for a webhook destination.
type Payload struct {
	Content   string  `json:"content,omitempty"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// StatusPayload announces the current status of rec. The agency, when
// known, is shown as the sender.
func StatusPayload(rec models.EventRecord, agency *models.Agency) Payload {
	color, ok := statusColors[rec.Status]
	if !ok {
		color = defaultColor
	}
	description := fmt.Sprintf("**Status:** %s\n%s", rec.Status, streamLine(rec))
	return withSender(Payload{Embeds: []Embed{baseEmbed(rec, color, description)}}, agency)
}

// StartChangePayload announces a revised start time.
func StartChangePayload(rec models.EventRecord, previous time.Time, agency *models.Agency) Payload {
	description := fmt.Sprintf("**New T-0:** <t:%d:F>\n**Was:** <t:%d:F>\n%s",
		rec.Start.Unix(), previous.Unix(), streamLine(rec))
	return withSender(Payload{Embeds: []Embed{baseEmbed(rec, defaultColor, description)}}, agency)
}

// MediaPayload posts the watch URL under the publishing channel's identity.
func MediaPayload(item models.MediaAnnouncement) Payload {
	return Payload{
		Content:   media.WatchURL(item.MediaID),
		Username:  item.ChannelName,
		AvatarURL: item.ChannelAvatar,
	}
}

func baseEmbed(rec models.EventRecord, color int, description string) Embed {
	e := Embed{
		Title:       rec.Name,
		Description: description,
		URL:         eventPage(rec),
		Color:       color,
		Timestamp:   rec.Start.UTC().Format(time.RFC3339),
		Footer:      &EmbedFooter{Text: footerText},
	}
	if rec.ImageURL != "" {
		e.Thumbnail = &EmbedImage{URL: rec.ImageURL}
	}
	return e
}

func withSender(p Payload, agency *models.Agency) Payload {
	if agency != nil {
		p.Username = agency.Name
		p.AvatarURL = agency.LogoURL
	}
	return p
}

func streamLine(rec models.EventRecord) string {
	if !rec.HasStream() {
		return models.NoStream
	}
	return fmt.Sprintf("[Stream](%s)", rec.MediaURL)
}

func eventPage(rec models.EventRecord) string {
	if rec.Kind == models.KindEvent {
		return fmt.Sprintf(eventURLFmt, rec.ID)
	}
	return fmt.Sprintf(launchURLFmt, rec.ID)
}
