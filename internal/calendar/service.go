package calendar

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"studysprint/internal/auth"
	"studysprint/internal/config"
	"studysprint/internal/groups"
	"studysprint/internal/tasks"
	"studysprint/internal/web"
)

const (
	calendarName = "StudySprint"
	stateTTL     = 10 * time.Minute
)

type Service struct {
	cfg    config.Config
	db     *pgxpool.Pool
	groups *groups.Service
	tasks  *tasks.Service
	oauth  *oauth2.Config
	log    *slog.Logger
}

func NewService(cfg config.Config, db *pgxpool.Pool, groupsSvc *groups.Service, tasksSvc *tasks.Service, log *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		db:     db,
		groups: groupsSvc,
		tasks:  tasksSvc,
		log:    log,
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CalendarRedirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// GroupItems turns a group's exam date and dated tasks into calendar
// entries. Tasks without a due date are skipped.
func GroupItems(g groups.Group, ts []tasks.Task) []Item {
	var items []Item
	if exam, err := time.Parse(groups.DateLayout, g.ExamDate); err == nil {
		items = append(items, Item{
			UID:   "group-" + strconv.FormatInt(g.ID, 10) + "-exam",
			Title: "Exam: " + g.Name,
			Desc:  g.Subject + ": " + g.Goal,
			Date:  exam,
		})
	}
	for _, t := range ts {
		due, ok := t.Due()
		if !ok {
			continue
		}
		title := t.Title
		if t.Completed {
			title += " (done)"
		}
		items = append(items, Item{
			UID:   "task-" + strconv.FormatInt(t.ID, 10),
			Title: title,
			Desc:  g.Name,
			Date:  due,
		})
	}
	return items
}

func (s *Service) groupItems(ctx context.Context, groupID int64) (groups.Group, []Item, error) {
	g, err := s.groups.Load(ctx, groupID)
	if err != nil {
		return groups.Group{}, nil, err
	}
	ts, err := s.tasks.ByGroup(ctx, groupID)
	if err != nil {
		return groups.Group{}, nil, fmt.Errorf("group tasks: %w", err)
	}
	return g, GroupItems(g, ts), nil
}

func (s *Service) GroupICS(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	g, items, err := s.groupItems(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.log.Error("group calendar", "group", id, "err", err)
		web.Error(w, http.StatusInternalServerError, "calendar failed")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=studysprint-group-%d.ics", id))
	_, _ = w.Write(BuildICS(g.Name, items, time.Now()))
}

// Connect starts the Google consent flow. The state parameter binds the
// callback to the calling user.
func (s *Service) Connect(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	if _, err := s.db.Exec(r.Context(), `INSERT INTO calendar_oauth_states(state, user_id) VALUES($1,$2)`, state, auth.UserID(r)); err != nil {
		web.Error(w, http.StatusInternalServerError, "connect failed")
		return
	}
	url := s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	web.JSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Service) Callback(w http.ResponseWriter, r *http.Request) {
	code, state := r.URL.Query().Get("code"), r.URL.Query().Get("state")
	if code == "" || state == "" {
		web.Error(w, http.StatusBadRequest, "missing code or state")
		return
	}
	var uid int64
	err := s.db.QueryRow(r.Context(), `
		DELETE FROM calendar_oauth_states WHERE state=$1 AND created_at > now() - make_interval(secs => $2)
		RETURNING user_id
	`, state, stateTTL.Seconds()).Scan(&uid)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "unknown or expired state")
		return
	}
	tok, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "exchange: "+err.Error())
		return
	}
	if tok.RefreshToken == "" {
		web.Error(w, http.StatusBadRequest, "no refresh_token (revoke access and reconnect)")
		return
	}
	_, err = s.db.Exec(r.Context(), `
		INSERT INTO google_calendar_tokens(user_id, refresh_token)
		VALUES($1,$2)
		ON CONFLICT (user_id) DO UPDATE SET refresh_token=EXCLUDED.refresh_token, updated_at=now()
	`, uid, tok.RefreshToken)
	if err != nil {
		s.log.Error("store calendar token", "user", uid, "err", err)
		web.Error(w, http.StatusInternalServerError, "store token failed")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Sync pushes a group's calendar into the caller's Google Calendar.
func (s *Service) Sync(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	var in struct {
		Group int64 `json:"group" validate:"required,gt=0"`
	}
	if err := web.DecodeJSON(r, &in); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	_, items, err := s.groupItems(ctx, in.Group)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "calendar failed")
		return
	}

	if !s.cfg.CalendarEnabled {
		web.JSON(w, http.StatusOK, map[string]any{
			"synced":  false,
			"message": fmt.Sprintf("Google Calendar disabled. Download /api/calendar/groups/%d/ics instead.", in.Group),
			"events":  len(items),
		})
		return
	}

	var refresh string
	var calID *string
	err = s.db.QueryRow(ctx, `SELECT refresh_token, calendar_id FROM google_calendar_tokens WHERE user_id=$1`, uid).Scan(&refresh, &calID)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusBadRequest, "no calendar linked")
		return
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "load calendar token failed")
		return
	}

	srv, err := s.calendarClient(ctx, refresh)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "calendar client: "+err.Error())
		return
	}
	target := ""
	if calID != nil {
		target = *calID
	}
	if target == "" {
		if target, err = ensureCalendar(ctx, srv, calendarName); err != nil {
			web.Error(w, http.StatusBadGateway, "ensure calendar: "+err.Error())
			return
		}
		if _, err := s.db.Exec(ctx, `UPDATE google_calendar_tokens SET calendar_id=$2, updated_at=now() WHERE user_id=$1`, uid, target); err != nil {
			s.log.Warn("remember calendar id", "user", uid, "err", err)
		}
	}

	for _, it := range items {
		if err := upsertEvent(ctx, srv, target, it); err != nil {
			s.log.Error("calendar event upsert", "user", uid, "uid", it.UID, "err", err)
			web.Error(w, http.StatusBadGateway, "event upsert: "+err.Error())
			return
		}
	}
	web.JSON(w, http.StatusOK, map[string]any{"synced": true, "events": len(items)})
}

func (s *Service) calendarClient(ctx context.Context, refresh string) (*calendar.Service, error) {
	src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh})
	return calendar.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
}

func ensureCalendar(ctx context.Context, srv *calendar.Service, summary string) (string, error) {
	lst, err := srv.CalendarList.List().Context(ctx).Do()
	if err == nil {
		for _, it := range lst.Items {
			if it.Summary == summary {
				return it.Id, nil
			}
		}
	}
	cal, err := srv.Calendars.Insert(&calendar.Calendar{Summary: summary, TimeZone: "UTC"}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return cal.Id, nil
}

func upsertEvent(ctx context.Context, srv *calendar.Service, calID string, it Item) error {
	ev := &calendar.Event{
		Id:          EventID(it.UID),
		Summary:     it.Title,
		Description: it.Desc,
		Start:       &calendar.EventDateTime{Date: it.Date.Format(groups.DateLayout)},
		End:         &calendar.EventDateTime{Date: it.Date.AddDate(0, 0, 1).Format(groups.DateLayout)},
	}
	_, err := srv.Events.Update(calID, ev.Id, ev).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		_, err = srv.Events.Insert(calID, ev).Context(ctx).Do()
	}
	return err
}

// EventID maps an item UID to a stable Google event id. Google accepts only
// base32hex characters (0-9, a-v), which hex digits satisfy.
func EventID(uid string) string {
	return "ss" + hex.EncodeToString([]byte(uid))
}
