package provision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidEmail(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{"plain", "info@acme.test", true},
		{"subdomain", "dev@mail.acme.test", true},
		{"plus tag", "user+tag@acme.test", true},
		{"dotted local", "first.last@acme.test", true},

		{"empty", "", false},
		{"no at", "acme.test", false},
		{"no domain", "info@", false},
		{"no tld", "info@acme", false},
		{"space", "in fo@acme.test", false},
		{"double at", "a@b@acme.test", false},
		{"leading hyphen in domain", "info@-acme.test", false},
		{"too long", strings.Repeat("a", 250) + "@acme.test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidEmail(tt.address))
		})
	}
}

func TestHashMailboxPassword(t *testing.T) {
	hash, err := HashMailboxPassword("s3cret-password")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(hash, "{BLF-CRYPT}"))

	// Dovecot strips the scheme prefix and verifies the rest as bcrypt.
	raw := strings.TrimPrefix(hash, "{BLF-CRYPT}")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(raw), []byte("s3cret-password")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(raw), []byte("wrong")))
}

func TestHashMailboxPasswordSalted(t *testing.T) {
	a, err := HashMailboxPassword("same")
	require.NoError(t, err)
	b, err := HashMailboxPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMaildirFor(t *testing.T) {
	assert.Equal(t, "/var/vmail/acme.test/info/Maildir", MaildirFor("info@acme.test"))
	assert.Equal(t, "/var/vmail/mail.acme.test/first.last/Maildir", MaildirFor("first.last@mail.acme.test"))
}
