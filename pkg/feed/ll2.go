package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/livelaunch/platform/pkg/common/clock"
	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/gateway/httpclient"
)

const (
	ll2PageSize       = 50
	ll2MaxEvents      = 64
	ll2MaxDescription = 1000
	ll2MaxNetAhead    = 1461 * 24 * time.Hour

	defaultEventDuration = time.Hour
	evaDuration          = 6 * time.Hour
)

var imageExtensions = []string{".gif", ".jpeg", ".jpg", ".png", ".webp"}

// LL2Client is the structured feed: upcoming launches and events from the
// Launch Library 2 API merged into one snapshot.
type LL2Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	clock   clock.Clock
}

type LL2Option func(*LL2Client)

func WithLL2Clock(c clock.Clock) LL2Option {
	return func(l *LL2Client) { l.clock = c }
}

// WithLL2RequestsPerMinute throttles outbound requests. The free tier of
// the API allows 15 per hour; a token raises that.
func WithLL2RequestsPerMinute(n int) LL2Option {
	return func(l *LL2Client) {
		if n > 0 {
			l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 2)
		}
	}
}

func NewLL2Client(baseURL, token string, timeout time.Duration, opts ...LL2Option) *LL2Client {
	c := &LL2Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httpclient.New(timeout),
		limiter: rate.NewLimiter(rate.Inf, 1),
		clock:   clock.System(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LL2Client) Name() string { return "ll2" }

type ll2Ref struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type ll2Video struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

type ll2Image struct {
	ImageURL string `json:"image_url"`
}

type ll2Launch struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	Net          time.Time  `json:"net"`
	NetPrecision *ll2Ref    `json:"net_precision"`
	Status       *ll2Ref    `json:"status"`
	WebcastLive  bool       `json:"webcast_live"`
	VidURLs      []ll2Video `json:"vid_urls"`
	Image        *ll2Image  `json:"image"`
	Mission      *struct {
		Description string `json:"description"`
	} `json:"mission"`
	Pad *struct {
		Location *struct {
			Name string `json:"name"`
		} `json:"location"`
	} `json:"pad"`
	Provider *ll2Ref `json:"launch_service_provider"`
}

type ll2Event struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description"`
	Date          time.Time  `json:"date"`
	DatePrecision *ll2Ref    `json:"date_precision"`
	Duration      string     `json:"duration"`
	Type          *ll2Ref    `json:"type"`
	Location      string     `json:"location"`
	WebcastLive   bool       `json:"webcast_live"`
	VidURLs       []ll2Video `json:"vid_urls"`
	Image         *ll2Image  `json:"image"`
}

// Fetch returns the next ll2MaxEvents launches and events by start time.
// Both lists must come back non-empty; otherwise the whole poll counts as
// an outage, since a half snapshot would look like mass removals.
func (c *LL2Client) Fetch(ctx context.Context) (Snapshot, error) {
	var (
		launches []models.EventRecord
		events   []models.EventRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		launches, err = c.upcomingLaunches(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = c.upcomingEvents(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	if len(launches) == 0 || len(events) == 0 {
		return nil, fmt.Errorf("%w: ll2 returned %d launches and %d events", ErrFeedUnavailable, len(launches), len(events))
	}

	all := append(launches, events...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	if len(all) > ll2MaxEvents {
		all = all[:ll2MaxEvents]
	}

	snap := make(Snapshot, len(all))
	for _, rec := range all {
		snap[rec.ID] = rec
	}
	return snap, nil
}

func (c *LL2Client) upcomingLaunches(ctx context.Context) ([]models.EventRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(ll2PageSize))
	q.Set("mode", "detailed")
	q.Set("net__lte", c.clock.Now().Add(ll2MaxNetAhead).Format(time.RFC3339))

	var results []ll2Launch
	if err := c.get(ctx, "/launches/upcoming/", q, &results); err != nil {
		return nil, err
	}

	out := make([]models.EventRecord, 0, len(results))
	for _, l := range results {
		if l.ID == "" || l.Net.IsZero() {
			continue
		}
		rec := models.EventRecord{
			ID:            l.ID,
			Kind:          models.KindLaunch,
			Name:          l.Name,
			Slug:          l.Slug,
			MediaURL:      pickVideo(l.VidURLs),
			Start:         l.Net.UTC(),
			End:           l.Net.UTC().Add(defaultEventDuration),
			BroadcastLive: l.WebcastLive,
			Location:      "Unknown",
		}
		if l.Status != nil {
			rec.Status = models.Status(l.Status.ID)
		}
		switch {
		case l.NetPrecision != nil && l.NetPrecision.ID != 0:
			rec.Name = precisionPrefix(rec.Start, l.NetPrecision.ID) + rec.Name
		case rec.Status == models.StatusTBD:
			rec.Name = "[TBD] " + rec.Name
		}
		if l.Mission != nil {
			rec.Description = truncate(l.Mission.Description, ll2MaxDescription)
		}
		if l.Pad != nil && l.Pad.Location != nil && l.Pad.Location.Name != "" {
			rec.Location = l.Pad.Location.Name
		}
		if l.Provider != nil {
			rec.AgencyID = l.Provider.ID
			rec.AgencyName = l.Provider.Name
		}
		if l.Image != nil && validImage(l.Image.ImageURL) {
			rec.ImageURL = l.Image.ImageURL
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *LL2Client) upcomingEvents(ctx context.Context) ([]models.EventRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(ll2PageSize))
	q.Set("date__lte", c.clock.Now().Add(ll2MaxNetAhead).Format(time.RFC3339))

	var results []ll2Event
	if err := c.get(ctx, "/events/upcoming/", q, &results); err != nil {
		return nil, err
	}

	log := logger.Component("feed").WithField("feed", c.Name())
	out := make([]models.EventRecord, 0, len(results))
	for _, e := range results {
		if e.ID == 0 || e.Date.IsZero() {
			continue
		}
		duration := defaultEventDuration
		if e.Type != nil && e.Type.Name == "EVA" {
			duration = evaDuration
		}
		if e.Duration != "" {
			d, err := ParseISODuration(e.Duration)
			if err != nil {
				log.WithError(err).WithField("event_id", e.ID).Debug("Ignoring unparsable event duration")
			} else if d > 0 {
				duration = d
			}
		}

		rec := models.EventRecord{
			ID:            strconv.Itoa(e.ID),
			Kind:          models.KindEvent,
			Name:          e.Name,
			Slug:          e.Slug,
			Description:   truncate(e.Description, ll2MaxDescription),
			Location:      e.Location,
			MediaURL:      pickVideo(e.VidURLs),
			Start:         e.Date.UTC(),
			End:           e.Date.UTC().Add(duration),
			BroadcastLive: e.WebcastLive,
		}
		if rec.Location == "" {
			rec.Location = "Unknown"
		}
		if e.DatePrecision != nil && e.DatePrecision.ID != 0 {
			rec.Name = precisionPrefix(rec.Start, e.DatePrecision.ID) + rec.Name
		} else {
			rec.Name = "[TBD] " + rec.Name
		}
		if e.Image != nil && validImage(e.Image.ImageURL) {
			rec.ImageURL = e.Image.ImageURL
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *LL2Client) get(ctx context.Context, path string, q url.Values, results interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.baseURL + path + "?" + q.Encode()

	return httpclient.Retry(ctx, 2, time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return httpclient.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Token "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("ll2 %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			status := &httpclient.StatusError{Status: resp.StatusCode}
			if httpclient.IsRetriable(status) {
				return fmt.Errorf("ll2 %s: %w", path, status)
			}
			return httpclient.Permanent(fmt.Errorf("ll2 %s: %w", path, status))
		}

		page := struct {
			Results json.RawMessage `json:"results"`
		}{}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return httpclient.Permanent(fmt.Errorf("decode ll2 %s: %w", path, err))
		}
		if len(page.Results) == 0 {
			return nil
		}
		if err := json.Unmarshal(page.Results, results); err != nil {
			return httpclient.Permanent(fmt.Errorf("decode ll2 %s results: %w", path, err))
		}
		return nil
	})
}

// pickVideo returns the URL with the lowest priority value.
func pickVideo(videos []ll2Video) string {
	picked, best := "", 0
	for _, v := range videos {
		if v.URL == "" {
			continue
		}
		if picked == "" || v.Priority < best {
			picked, best = v.URL, v.Priority
		}
	}
	if picked == "" {
		return models.NoStream
	}
	return picked
}

func validImage(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// precisionPrefix renders the upstream start-time precision as a name
// prefix, e.g. "[NET March 5] " for a day-precision launch.
func precisionPrefix(t time.Time, precision int) string {
	switch precision {
	case 2:
		return fmt.Sprintf("[NET %02d:00 UTC] ", t.Hour())
	case 3:
		return "[Morning (local)] "
	case 4:
		return "[Afternoon (local)] "
	case 5:
		return t.Format("[NET January 2] ")
	case 6:
		_, week := t.ISOWeek()
		return fmt.Sprintf("[NET Week %d] ", week)
	case 7:
		return t.Format("[NET January] ")
	case 8, 9, 10, 11:
		return fmt.Sprintf("[Q%d %d] ", precision-7, t.Year())
	case 12, 13:
		return fmt.Sprintf("[H%d %d] ", precision-11, t.Year())
	case 14:
		return fmt.Sprintf("[TBD %d] ", t.Year())
	case 15:
		return fmt.Sprintf("[FY %d] ", t.Year())
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
