package nmap_test

import (
	"testing"

	"github.com/scantaskd/scantaskd/internal/nmap"
	"github.com/stretchr/testify/require"
)

func TestBuilderProfiles(t *testing.T) {
	t.Parallel()
	b := nmap.NewBuilder()

	require.Equal(t,
		[]string{"nmap", "-F", "-T4", "-oX", "-", "scanme.test"},
		b.Quick("scanme.test"),
	)
	require.Equal(t,
		[]string{"nmap", "-p", "1-65535", "-T4", "-sV", "-oX", "-", "scanme.test"},
		b.Full("scanme.test"),
	)

	custom := b.WithBinary("/opt/nmap/bin/nmap")
	require.Equal(t, "/opt/nmap/bin/nmap", custom.Quick("h")[0])
	// empty override keeps the previous binary
	require.Equal(t, "/opt/nmap/bin/nmap", custom.WithBinary("").Quick("h")[0])
}

func TestBuilderCustom(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		scenario string
		binary   string
		raw      string
		want     []string
	}{
		{
			scenario: "leading nmap is normalized",
			binary:   "/usr/bin/nmap",
			raw:      "nmap -sS -p 80 scanme.test",
			want:     []string{"/usr/bin/nmap", "-sS", "-p", "80", "scanme.test"},
		},
		{
			scenario: "options only get the binary prepended",
			binary:   "nmap",
			raw:      "-sS -p 80 scanme.test",
			want:     []string{"nmap", "-sS", "-p", "80", "scanme.test"},
		},
		{
			scenario: "quoting is honored",
			binary:   "nmap",
			raw:      `nmap --script "http-title" -p "80,443" scanme.test`,
			want:     []string{"nmap", "--script", "http-title", "-p", "80,443", "scanme.test"},
		},
		{
			scenario: "shell metacharacters stay literal",
			binary:   "nmap",
			raw:      "nmap -p 80 'scanme.test; echo pwned'",
			want:     []string{"nmap", "-p", "80", "scanme.test; echo pwned"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			got, err := nmap.NewBuilder().WithBinary(tc.binary).Custom(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("empty command", func(t *testing.T) {
		t.Parallel()
		_, err := nmap.NewBuilder().Custom("   ")
		require.Error(t, err)
	})
	t.Run("unbalanced quote", func(t *testing.T) {
		t.Parallel()
		_, err := nmap.NewBuilder().Custom(`nmap -p "80`)
		require.Error(t, err)
	})
}

func TestTarget(t *testing.T) {
	t.Parallel()
	require.Equal(t, "scanme.test", nmap.Target([]string{"nmap", "-F", "scanme.test"}))
	require.Equal(t, "unknown", nmap.Target(nil))
}
