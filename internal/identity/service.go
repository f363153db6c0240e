package identity

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/walletd/internal/ledger"
)

const (
	// AdminName is reserved for the bootstrap administrator.
	AdminName              = "admin"
	defaultAdminCredential = "admin"
	provisionLockKeyPrefix = "provision:"
)

var (
	// ErrInvalidArgument is returned for empty names, credentials or identifiers.
	// It is the ledger's sentinel, so one errors.Is check covers both packages.
	ErrInvalidArgument = ledger.ErrInvalidArgument

	// ErrDuplicateUser is returned when the name is taken, ignoring case.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrUserNotFound is returned when no user matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned by Authenticate for any mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// WalletProvisioner creates and looks up per-user wallets. ledger.Engine
// satisfies it.
type WalletProvisioner interface {
	CreateWallet(ctx context.Context, userID string) (ledger.Wallet, error)
	GetWalletByUser(ctx context.Context, userID string) (ledger.Wallet, error)
}

// Service manages the user directory and keeps every user paired with a wallet.
type Service struct {
	repo            Repository
	wallets         WalletProvisioner
	locker          ledger.Locker
	logger          *slog.Logger
	adminCredential string
}

// Option customizes a Service.
type Option func(*Service)

// WithLocker sets the locker serializing wallet provisioning.
func WithLocker(locker ledger.Locker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAdminCredential overrides the bootstrap admin credential.
func WithAdminCredential(credential string) Option {
	return func(s *Service) {
		if credential != "" {
			s.adminCredential = credential
		}
	}
}

// NewService creates a new identity service.
func NewService(repo Repository, wallets WalletProvisioner, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		wallets:         wallets,
		locker:          ledger.NewKeyedMutex(),
		logger:          slog.Default(),
		adminCredential: defaultAdminCredential,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser registers a user and provisions their wallet. If provisioning
// fails the user is kept and ProvisionMissingWallets repairs it later.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, fmt.Errorf("name is required: %w", ErrInvalidArgument)
	}
	if in.Credential == "" {
		return User{}, fmt.Errorf("credential is required: %w", ErrInvalidArgument)
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("unknown role %q: %w", role, ErrInvalidArgument)
	}

	exists, err := s.UserExistsByName(ctx, name)
	if err != nil {
		return User{}, err
	}
	if exists {
		return User{}, ErrDuplicateUser
	}

	hash, err := bcrypt.GenerateFromPassword(credentialDigest(in.Credential), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash credential: %w", err)
	}

	user := User{
		ID:             uuid.New().String(),
		Name:           name,
		CredentialHash: hash,
		Role:           role,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return User{}, err
		}
		return User{}, fmt.Errorf("store user: %w", err)
	}

	if _, _, err := s.provisionWallet(ctx, user.ID); err != nil {
		return User{}, fmt.Errorf("provision wallet for %s: %w", user.ID, err)
	}

	s.logger.Info("user created", slog.String("user_id", user.ID), slog.String("role", string(user.Role)))
	return user, nil
}

// GetUser returns the user with the given identifier.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, fmt.Errorf("user id is required: %w", ErrInvalidArgument)
	}
	return s.repo.FindByID(ctx, id)
}

// GetUserByName looks a user up by case-insensitive name.
func (s *Service) GetUserByName(ctx context.Context, name string) (User, error) {
	if strings.TrimSpace(name) == "" {
		return User{}, fmt.Errorf("name is required: %w", ErrInvalidArgument)
	}
	return s.repo.FindByName(ctx, name)
}

// ListUsers returns every user in creation order.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// UserExists reports whether id names a registered user.
func (s *Service) UserExists(ctx context.Context, id string) (bool, error) {
	_, err := s.GetUser(ctx, id)
	return found(err)
}

// UserExistsByName reports whether name is taken, ignoring case.
func (s *Service) UserExistsByName(ctx context.Context, name string) (bool, error) {
	_, err := s.GetUserByName(ctx, name)
	return found(err)
}

// Wallet returns the wallet owned by userID.
func (s *Service) Wallet(ctx context.Context, userID string) (ledger.Wallet, error) {
	return s.wallets.GetWalletByUser(ctx, userID)
}

// EnsureAdminExists returns the bootstrap administrator, creating it and its
// wallet if needed. Concurrent callers all observe the same admin.
func (s *Service) EnsureAdminExists(ctx context.Context) (User, error) {
	admin, err := s.repo.FindByName(ctx, AdminName)
	if errors.Is(err, ErrUserNotFound) {
		admin, err = s.CreateUser(ctx, CreateUserInput{Name: AdminName, Credential: s.adminCredential, Role: RoleAdmin})
		if errors.Is(err, ErrDuplicateUser) {
			admin, err = s.repo.FindByName(ctx, AdminName)
		}
	}
	if err != nil {
		return User{}, fmt.Errorf("ensure admin: %w", err)
	}

	if _, _, err := s.provisionWallet(ctx, admin.ID); err != nil {
		return User{}, fmt.Errorf("provision admin wallet: %w", err)
	}
	return admin, nil
}

// IsAdmin reports whether user holds the admin role.
func (s *Service) IsAdmin(user User) bool {
	return user.Role == RoleAdmin
}

// Authenticate checks a name and credential pair.
func (s *Service) Authenticate(ctx context.Context, name, credential string) (User, error) {
	if strings.TrimSpace(name) == "" || credential == "" {
		return User{}, ErrInvalidCredentials
	}
	user, err := s.repo.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.CredentialHash, credentialDigest(credential)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ProvisionMissingWallets creates a wallet for every user that lacks one and
// returns how many were created.
func (s *Service) ProvisionMissingWallets(ctx context.Context) (int, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	created := 0
	for _, user := range users {
		_, isNew, err := s.provisionWallet(ctx, user.ID)
		if err != nil {
			return created, fmt.Errorf("provision wallet for %s: %w", user.ID, err)
		}
		if isNew {
			s.logger.Warn("provisioned missing wallet", slog.String("user_id", user.ID))
			created++
		}
	}
	return created, nil
}

// DisplayName returns the user's name for transfer descriptions.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}

func (s *Service) provisionWallet(ctx context.Context, userID string) (ledger.Wallet, bool, error) {
	release, err := s.locker.Acquire(ctx, provisionLockKeyPrefix+userID)
	if err != nil {
		return ledger.Wallet{}, false, err
	}
	defer release()

	wallet, err := s.wallets.GetWalletByUser(ctx, userID)
	if err == nil {
		return wallet, false, nil
	}
	if !errors.Is(err, ledger.ErrWalletNotFound) {
		return ledger.Wallet{}, false, err
	}
	wallet, err = s.wallets.CreateWallet(ctx, userID)
	if err != nil {
		return ledger.Wallet{}, false, err
	}
	return wallet, true, nil
}

// credentialDigest folds a credential of any length into 44 bytes, below
// bcrypt's 72-byte input limit, without truncating it.
func credentialDigest(credential string) []byte {
	sum := sha256.Sum256([]byte(credential))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

func found(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}
