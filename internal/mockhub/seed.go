package mockhub

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"turnstile/internal/domain"
	"turnstile/internal/repo"
)

var seedFirstNames = []string{
	"Ana", "Bo", "Chloé", "Diego", "Emma", "Félix", "Grace", "Hugo",
	"Inès", "Jules", "Karim", "Léa", "Mateo", "Nadia", "Oscar", "Priya",
}

var seedLastNames = []string{
	"Martin", "Bernard", "Dubois", "Müller", "Rossi", "García", "Chen",
	"Nguyen", "Okafor", "Petit", "Moreau", "Silva", "Kowalski", "Haddad",
}

// SeedOptions controls the demo fixture size.
type SeedOptions struct {
	Participants int
	ExtraBadges  int // participants holding a second badge entity
	Rand         *rand.Rand
	Volunteer    repo.Volunteer
}

// Seed fills an empty database with one org, one event, two badge types, a
// terminal, a volunteer account, and a randomized roster.
func Seed(ctx context.Context, r repo.Repo, opts SeedOptions) error {
	if opts.Participants <= 0 {
		opts.Participants = 250
	}
	if opts.ExtraBadges < 0 {
		opts.ExtraBadges = 0
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if opts.Volunteer.UserID == "" {
		opts.Volunteer = repo.Volunteer{
			UserID:           uuid.NewString(),
			FirstName:        "Dev",
			PhoneCountryCode: "+33",
			PhoneNumber:      "0600000000",
		}
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	org := domain.Org{ID: uuid.NewString(), Name: "Demo Org"}
	event := domain.Event{ID: uuid.NewString(), Name: "Demo Event"}
	day1 := domain.BadgeType{ID: uuid.NewString(), Name: "Day 1", MaxSupply: opts.Participants}
	day2 := domain.BadgeType{ID: uuid.NewString(), Name: "Day 2", MaxSupply: opts.Participants}

	if err := r.InsertOrg(ctx, tx, org); err != nil {
		return err
	}
	if err := r.InsertEvent(ctx, tx, org.ID, event); err != nil {
		return err
	}
	for _, b := range []domain.BadgeType{day1, day2} {
		if err := r.InsertBadgeType(ctx, tx, event.ID, b); err != nil {
			return err
		}
	}
	if err := r.InsertTerminal(ctx, tx, uuid.NewString(), event.ID, "gate-a"); err != nil {
		return err
	}
	if err := r.InsertVolunteer(ctx, tx, opts.Volunteer, []string{org.ID}); err != nil {
		return err
	}

	for i := 0; i < opts.Participants; i++ {
		first := seedFirstNames[rng.Intn(len(seedFirstNames))]
		last := seedLastNames[rng.Intn(len(seedLastNames))]
		userID := uuid.NewString()
		email := fmt.Sprintf("%s.%s.%d@example.org", first, last, i)
		if err := r.InsertParticipant(ctx, tx, userID, first, last, email); err != nil {
			return err
		}
		if err := r.InsertBadgeEntity(ctx, tx, uuid.NewString(), day1.ID, userID, false); err != nil {
			return err
		}
		if i < opts.ExtraBadges {
			if err := r.InsertBadgeEntity(ctx, tx, uuid.NewString(), day2.ID, userID, false); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
