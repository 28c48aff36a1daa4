package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"classmind/pkg/auth"
	"classmind/pkg/domain"
	"classmind/pkg/faults"
)

const minPasswordLength = 8

// SignUpParams collects registration input. SchoolID is optional; standalone
// teachers carry no school.
type SignUpParams struct {
	Email    string
	Password string
	FullName string
	SchoolID string
}

// SignUp registers a user, enforcing email uniqueness and the school's seat
// limit. The first user of a school becomes its admin.
func (a *App) SignUp(ctx context.Context, p SignUpParams) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, faults.Validationf("invalid email %q", p.Email)
	}
	if len(p.Password) < minPasswordLength {
		return domain.User{}, faults.Validationf("password must be at least %d characters", minPasswordLength)
	}
	if strings.TrimSpace(p.FullName) == "" {
		return domain.User{}, faults.Validationf("full name required")
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: check email: %v", faults.ErrLocalWriteFailed, err)
	}
	if exists {
		return domain.User{}, faults.Validationf("email %s is already registered", email)
	}

	role := domain.RoleTeacher
	if p.SchoolID != "" {
		school, ok, err := a.store.GetSchool(p.SchoolID)
		if err != nil {
			return domain.User{}, fmt.Errorf("%w: load school: %v", faults.ErrLocalWriteFailed, err)
		}
		if !ok {
			return domain.User{}, faults.Validationf("school %s not found", p.SchoolID)
		}
		seats, err := a.store.CountUsersBySchool(p.SchoolID)
		if err != nil {
			return domain.User{}, fmt.Errorf("%w: count school users: %v", faults.ErrLocalWriteFailed, err)
		}
		if school.MaxUsers > 0 && seats >= school.MaxUsers {
			return domain.User{}, faults.Validationf("school %s is at its user limit (%d)", school.Name, school.MaxUsers)
		}
		if seats == 0 {
			role = domain.RoleAdmin
		}
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           newID(),
		Email:        email,
		FullName:     strings.TrimSpace(p.FullName),
		SchoolID:     p.SchoolID,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("%w: save user: %v", faults.ErrLocalWriteFailed, err)
	}
	return user, nil
}

// Login verifies credentials and opens a session, returning the token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("%w: load user: %v", faults.ErrLocalWriteFailed, err)
	}
	// Same error for unknown email and bad password.
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", faults.Validationf("invalid email or password")
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("open session: %w", err)
	}
	now := time.Now().UTC()
	if err := a.store.TouchLastLogin(user.ID, now); err == nil {
		user.LastLogin = &now
	}
	return user, token, nil
}

// Logout invalidates a session token. Unknown tokens are a no-op.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a session token to its user.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, fmt.Errorf("%w: invalid session", faults.ErrAuthorizationDenied)
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: load user: %v", faults.ErrLocalWriteFailed, err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user no longer exists", faults.ErrAuthorizationDenied)
	}
	return user, nil
}

// CreateSchool registers a school and makes the caller its admin. The seat
// limit derives from the subscription tier unless maxUsers overrides it.
func (a *App) CreateSchool(ctx context.Context, caller domain.User, name string, tier domain.SubscriptionTier, maxUsers int) (domain.School, error) {
	if strings.TrimSpace(name) == "" {
		return domain.School{}, faults.Validationf("school name required")
	}
	if caller.SchoolID != "" {
		return domain.School{}, faults.Validationf("user already belongs to a school")
	}
	switch tier {
	case domain.TierBasic, domain.TierStandard, domain.TierPremium:
	case "":
		tier = domain.TierBasic
	default:
		return domain.School{}, faults.Validationf("unknown subscription tier %q", tier)
	}
	if maxUsers <= 0 {
		maxUsers = tierSeatLimit(tier)
	}
	school := domain.School{
		ID:        newID(),
		Name:      strings.TrimSpace(name),
		Tier:      tier,
		MaxUsers:  maxUsers,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveSchool(school); err != nil {
		return domain.School{}, fmt.Errorf("%w: save school: %v", faults.ErrLocalWriteFailed, err)
	}
	caller.SchoolID = school.ID
	caller.Role = domain.RoleAdmin
	if err := a.store.SaveUser(caller); err != nil {
		return domain.School{}, fmt.Errorf("%w: promote school admin: %v", faults.ErrLocalWriteFailed, err)
	}
	return school, nil
}

// SchoolUsers lists the members of a school; admin only.
func (a *App) SchoolUsers(ctx context.Context, caller domain.User, schoolID string) ([]domain.User, error) {
	if err := a.guard.School(caller, schoolID); err != nil {
		return nil, err
	}
	return a.store.ListUsersBySchool(schoolID)
}

// SchoolUsage summarizes a school's seat consumption for its admin.
type SchoolUsage struct {
	School    domain.School `json:"school"`
	UsedSeats int           `json:"usedSeats"`
}

// SchoolStats returns the school record with its current seat count.
func (a *App) SchoolStats(ctx context.Context, caller domain.User, schoolID string) (SchoolUsage, error) {
	if err := a.guard.School(caller, schoolID); err != nil {
		return SchoolUsage{}, err
	}
	school, ok, err := a.store.GetSchool(schoolID)
	if err != nil {
		return SchoolUsage{}, fmt.Errorf("%w: load school: %v", faults.ErrLocalWriteFailed, err)
	}
	if !ok {
		return SchoolUsage{}, fmt.Errorf("%w: school %s", faults.ErrNotFound, schoolID)
	}
	seats, err := a.store.CountUsersBySchool(schoolID)
	if err != nil {
		return SchoolUsage{}, fmt.Errorf("%w: count school users: %v", faults.ErrLocalWriteFailed, err)
	}
	return SchoolUsage{School: school, UsedSeats: seats}, nil
}

func tierSeatLimit(tier domain.SubscriptionTier) int {
	switch tier {
	case domain.TierPremium:
		return 500
	case domain.TierStandard:
		return 100
	default:
		return 10
	}
}
