// Package mockhub is a self-contained development hub. It speaks the same
// workflow wire format as the production backend, backed by SQLite, so a
// terminal can be exercised end to end without network access. The scan_events
// table is the delta feed: append-only, watermark-keyed, replay-safe.
package mockhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"turnstile/internal/events"
	"turnstile/internal/repo"
)

const (
	rosterPageSize = 100
	tokenTTL       = 24 * time.Hour
	otpTTL         = 5 * time.Minute
)

// Config for the development hub handler.
type Config struct {
	Repo      repo.Repo
	JWTSecret string
	Logger    *log.Logger
	Now       func() time.Time
}

type Server struct {
	repo   repo.Repo
	writer events.Writer
	secret string
	logger *log.Logger
	now    func() time.Time
}

// New returns an HTTP handler exposing the workflow endpoints.
func New(cfg Config) (*Server, http.Handler) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		repo:   cfg.Repo,
		writer: events.Writer{DB: cfg.Repo.DB, Now: cfg.Now},
		secret: cfg.JWTSecret,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	router := chi.NewRouter()
	router.Post("/api/1.1/wf/SendCode", s.handleSendCode)
	router.Post("/api/1.1/wf/VerifyCode", s.handleVerifyCode)
	router.Post("/api/1.1/wf/EventInit", s.authed(s.handleEventInit))
	router.Post("/api/1.1/wf/SelectedBadges", s.authed(s.handleSelectedBadges))
	router.Post("/api/1.1/wf/ParticipantListUpdate", s.authed(s.handleListUpdate))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]string{"status": "ok"})
	})
	return s, router
}

type userIDKey struct{}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID, err := authenticate(token, s.secret)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	}
}

func respond(w http.ResponseWriter, response any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "success",
		"response": response,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "error",
		"response": map[string]string{"message": message},
	})
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	countryCode := r.FormValue("phoneCountryCode")
	number := r.FormValue("phoneNumber")
	if _, err := s.repo.VolunteerByPhone(r.Context(), countryCode, number); err != nil {
		respondError(w, http.StatusNotFound, "unknown phone number")
		return
	}
	code := fmt.Sprintf("%04d", rand.Intn(10000))
	expires := s.now().Add(otpTTL).UnixMilli()
	if err := s.repo.UpsertOTP(r.Context(), countryCode, number, code, expires); err != nil {
		respondError(w, http.StatusInternalServerError, "store code")
		return
	}
	// There is no SMS gateway here; the code goes to the log instead.
	s.logger.Printf("mockhub: OTP for %s%s is %s", countryCode, number, code)
	respond(w, map[string]string{})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	v, err := s.repo.ConsumeOTP(r.Context(),
		r.FormValue("phoneCountryCode"), r.FormValue("phoneNumber"), r.FormValue("code"),
		s.now().UnixMilli())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired code")
		return
	}
	token, expires, err := issueToken(s.secret, v.UserID, s.now(), tokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "issue token")
		return
	}
	respond(w, map[string]any{
		"userFirstName": v.FirstName,
		"token":         token,
		"user_id":       v.UserID,
		"expires":       expires,
	})
}

func (s *Server) handleEventInit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	userID, _ := r.Context().Value(userIDKey{}).(string)
	orgID := r.FormValue("orgId")
	eventID := r.FormValue("eventId")

	switch {
	case eventID != "":
		types, err := s.repo.BadgeTypesForEvent(r.Context(), eventID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "badge types")
			return
		}
		terminal, err := s.repo.TerminalForEvent(r.Context(), eventID)
		if err != nil {
			respondError(w, http.StatusNotFound, "no terminal for event")
			return
		}
		badges := make([]map[string]any, 0, len(types))
		for _, b := range types {
			badges = append(badges, map[string]any{
				"_id": b.ID, "name": b.Name, "icon": b.Icon, "max_supply": b.MaxSupply,
			})
		}
		respond(w, map[string]any{"badges": badges, "scanTerminal": terminal})
	case orgID != "":
		evs, err := s.repo.EventsForOrg(r.Context(), orgID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "events")
			return
		}
		out := make([]map[string]any, 0, len(evs))
		for _, e := range evs {
			out = append(out, map[string]any{"_id": e.ID, "name": e.Name, "main_picture": e.Icon})
		}
		respond(w, map[string]any{"events": out})
	default:
		orgs, err := s.repo.OrgsForVolunteer(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "orgs")
			return
		}
		out := make([]map[string]any, 0, len(orgs))
		for _, o := range orgs {
			out = append(out, map[string]any{"_id": o.ID, "name": o.Name, "logo": o.Icon})
		}
		respond(w, map[string]any{"orgs": out})
	}
}

func (s *Server) handleSelectedBadges(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	var badgeTypeIDs []string
	if err := json.Unmarshal([]byte(r.FormValue("badgeTypeIds")), &badgeTypeIDs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid badgeTypeIds")
		return
	}
	cursor, _ := strconv.Atoi(r.FormValue("cursor"))
	page, remaining, err := s.repo.RosterPage(r.Context(), badgeTypeIDs, cursor, rosterPageSize)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "roster page")
		return
	}
	respond(w, map[string]any{
		"participants": encodeRecords(page),
		"remaining":    remaining,
	})
}

func (s *Server) handleListUpdate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	var changed, badgeTypeIDs []string
	if v := r.FormValue("changedBadgeEntities"); v != "" {
		if err := json.Unmarshal([]byte(v), &changed); err != nil {
			respondError(w, http.StatusBadRequest, "invalid changedBadgeEntities")
			return
		}
	}
	if v := r.FormValue("badgeTypes"); v != "" {
		if err := json.Unmarshal([]byte(v), &badgeTypeIDs); err != nil {
			respondError(w, http.StatusBadRequest, "invalid badgeTypes")
			return
		}
	}
	watermark, _ := strconv.ParseInt(r.FormValue("watermark"), 10, 64)
	terminal := r.FormValue("scanTerminal")
	nowMs := s.now().UnixMilli()

	if len(changed) > 0 {
		if err := s.applyPushes(r.Context(), changed, terminal); err != nil {
			respondError(w, http.StatusInternalServerError, "apply pushes")
			return
		}
	}

	rows, _, err := s.repo.EventsSince(r.Context(), badgeTypeIDs, watermark)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "events since")
		return
	}
	respond(w, map[string]any{
		"participantsUpdate":     encodeRecords(rows),
		"LastQueryUnixTimeStamp": nowMs,
	})
}

// applyPushes marks each pushed entity used and appends a scan event for the
// ones that actually flipped. Entities already used elsewhere are silently
// skipped, so a terminal retrying an unacknowledged push is harmless.
func (s *Server) applyPushes(ctx context.Context, entityIDs []string, terminal string) error {
	tx, err := s.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range entityIDs {
		flipped, err := s.repo.MarkScanned(ctx, tx, id, terminal, s.now().UnixMilli())
		if err != nil {
			return err
		}
		if !flipped {
			continue
		}
		if _, err := s.writer.Append(ctx, tx, id, terminal); err != nil {
			return err
		}
	}
	return tx.Commit()
}
