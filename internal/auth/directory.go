package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Directory resolves employees by username and checks their passwords.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (User, error)
	Lookup(ctx context.Context, username string) (User, error)
}

// DemoAccount is a seed record for the demo directory.
type DemoAccount struct {
	User     User
	Password string
}

// DemoAccounts are the accounts shipped with the reference backend.
var DemoAccounts = []DemoAccount{
	{User: User{ID: 1, Username: "demo_ceo", FullName: "John Smith", Role: "CEO", Level: 100}, Password: "demo123"},
	{User: User{ID: 2, Username: "demo_engineer", FullName: "Alice Johnson", Role: "ENGINEER", Level: 40}, Password: "demo123"},
	{User: User{ID: 3, Username: "demo_intern", FullName: "Bob Wilson", Role: "INTERN", Level: 10}, Password: "demo123"},
}

type memoryAccount struct {
	user User
	hash string
}

// MemoryDirectory is an in-process Directory with bcrypt-hashed passwords.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]memoryAccount
}

// NewMemoryDirectory hashes and stores the given accounts.
func NewMemoryDirectory(accounts []DemoAccount) (*MemoryDirectory, error) {
	d := &MemoryDirectory{accounts: make(map[string]memoryAccount, len(accounts))}
	for _, acc := range accounts {
		if err := d.Add(acc.User, acc.Password); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add registers or replaces an account.
func (d *MemoryDirectory) Add(u User, password string) error {
	if err := u.Validate(); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", u.Username, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[normalizeUsername(u.Username)] = memoryAccount{user: u, hash: hash}
	return nil
}

// Authenticate implements Directory.
func (d *MemoryDirectory) Authenticate(ctx context.Context, username, password string) (User, error) {
	d.mu.RLock()
	acc, ok := d.accounts[normalizeUsername(username)]
	d.mu.RUnlock()
	if !ok {
		burnPasswordCheck(password)
		return User{}, ErrAuthentication
	}
	if err := VerifyPassword(acc.hash, password); err != nil {
		return User{}, err
	}
	return acc.user, nil
}

// Lookup implements Directory.
func (d *MemoryDirectory) Lookup(ctx context.Context, username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.accounts[normalizeUsername(username)]
	if !ok {
		return User{}, ErrNotFound
	}
	return acc.user, nil
}

// Usernames lists known usernames in sorted order.
func (d *MemoryDirectory) Usernames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.accounts))
	for _, acc := range d.accounts {
		names = append(names, acc.user.Username)
	}
	sort.Strings(names)
	return names
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
