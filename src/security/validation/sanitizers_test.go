package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripUnprintable(t *testing.T) {
	assert.Equal(t, "hello world", StripUnprintable("hello\x00 world\x7f"))
	assert.Equal(t, "tab\tand\nnewline", StripUnprintable("tab\tand\nnewline"))
	assert.Equal(t, "Chaw Su Thu Zar", StripUnprintable("Chaw Su Thu Zar"))
}

func TestSanitizeAccountNumber(t *testing.T) {
	assert.Equal(t, "123-456-789", SanitizeAccountNumber(" 123-456-789 "))
	assert.Equal(t, "1234567890", SanitizeAccountNumber("Acct No. 123 456 7890"))
	assert.Equal(t, "", SanitizeAccountNumber("n/a"))
}
