// Package auth manages accounts and the signed-in session: password and
// OAuth sign-in, the session cookie, and change notifications for anything
// that has to react to a user signing in or out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/petermazzocco/particle-monitor/internal/store"
	"github.com/petermazzocco/particle-monitor/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	MinPasswordLength = 6
	MinFullNameLength = 2
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

type EventType string

const (
	EventSignedUp  EventType = "signed_up"
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
	EventUpdated   EventType = "user_updated"
)

// Event describes a session change. User is nil for EventSignedOut.
type Event struct {
	Type   EventType
	UserID string
	User   *models.User
}

type Service struct {
	db   *gorm.DB
	cost int

	mu          sync.Mutex
	nextID      int
	subscribers []subscriber
}

type subscriber struct {
	id int
	fn func(Event)
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, cost: bcrypt.DefaultCost}
}

// Subscribe registers fn for every later session change and returns a func
// that removes it. Subscribers run synchronously in registration order.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Service) publish(e Event) {
	s.mu.Lock()
	subs := make([]subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(e)
	}
}

func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (*models.User, error) {
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email is not valid", store.ErrInvalid)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", store.ErrInvalid, MinPasswordLength)
	}
	if len(fullName) < MinFullNameLength {
		return nil, fmt.Errorf("%w: full name must be at least %d characters", store.ErrInvalid, MinFullNameLength)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{Email: email, PasswordHash: string(hash), FullName: fullName}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.publish(Event{Type: EventSignedUp, UserID: user.ID, User: user})
	return user, nil
}

// SignIn checks an email/password pair. Unknown emails and wrong passwords
// return the same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	// OAuth-only accounts have no password
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.publish(Event{Type: EventSignedIn, UserID: user.ID, User: &user})
	return &user, nil
}

func (s *Service) SignOut(ctx context.Context, userID string) error {
	s.publish(Event{Type: EventSignedOut, UserID: userID})
	return nil
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user: %w", store.ErrNotFound)
	}
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user: %w", store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *Service) UpdateUser(ctx context.Context, userID, fullName string) (*models.User, error) {
	fullName = strings.TrimSpace(fullName)
	if len(fullName) < MinFullNameLength {
		return nil, fmt.Errorf("%w: full name must be at least %d characters", store.ErrInvalid, MinFullNameLength)
	}
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("full_name", fullName)
	if result.Error != nil {
		return nil, fmt.Errorf("update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("user: %w", store.ErrNotFound)
	}
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventUpdated, UserID: user.ID, User: user})
	return user, nil
}

// FindOrCreateOAuthUser returns the account for a provider-verified email,
// creating a password-less one on first sign-in.
func (s *Service) FindOrCreateOAuthUser(ctx context.Context, email, name string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: provider returned no email", store.ErrInvalid)
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{Email: email, FullName: strings.TrimSpace(name)}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		s.publish(Event{Type: EventSignedUp, UserID: user.ID, User: &user})
	case err != nil:
		return nil, fmt.Errorf("find user: %w", err)
	}

	s.publish(Event{Type: EventSignedIn, UserID: user.ID, User: &user})
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
