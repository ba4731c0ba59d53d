package vapid

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestWriteEnvFormat(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, WriteEnv(&out, "PUB", "PRIV"))

	want := "VAPID Keys Generated\n" +
		"\n" +
		"Add these to your .env file:\n" +
		"\n" +
		"NEXT_PUBLIC_VAPID_PUBLIC_KEY=PUB\n" +
		"VAPID_PRIVATE_KEY=PRIV\n"
	assert.Equal(t, want, out.String())
}

func TestWriteEnvRejectsEmptyKey(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, WriteEnv(&out, "PUB", ""), ErrInvalidKey)
	assert.Zero(t, out.Len())
}

func TestWriteEnvWriteError(t *testing.T) {
	assert.Error(t, WriteEnv(failingWriter{}, "PUB", "PRIV"))
}

func TestProvision(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Provision(&out, strings.NewReader(strings.Repeat("k", PrivateKeySize))))

	pubLine := regexp.MustCompile(`(?m)^NEXT_PUBLIC_VAPID_PUBLIC_KEY=([A-Za-z0-9_-]+)$`)
	privLine := regexp.MustCompile(`(?m)^VAPID_PRIVATE_KEY=([A-Za-z0-9_-]+)$`)
	pubs := pubLine.FindAllStringSubmatch(out.String(), -1)
	privs := privLine.FindAllStringSubmatch(out.String(), -1)
	require.Len(t, pubs, 1)
	require.Len(t, privs, 1)

	_, err := ParseKeys(pubs[0][1], privs[0][1])
	assert.NoError(t, err)
}

func TestProvisionEntropyFailureWritesNothing(t *testing.T) {
	var out bytes.Buffer
	err := Provision(&out, iotest.ErrReader(errors.New("no entropy")))
	require.ErrorIs(t, err, ErrCryptographicFailure)
	assert.Zero(t, out.Len())
}
