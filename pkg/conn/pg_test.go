package conn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionDSN(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
		want string
	}{
		{"defaults", Option{}, "postgres://localhost:5432?sslmode=disable"},
		{"conn string wins", Option{ConnString: "postgres://x", Host: "db"}, "postgres://x"},
		{
			"full",
			Option{Host: "db", Port: 6543, User: "exec", Password: "p@ss", Database: "journal", SSLMode: "require", Params: map[string]string{"application_name": "trader", "": "skip"}},
			"postgres://exec:p%40ss@db:6543/journal?application_name=trader&sslmode=require",
		},
		{"user only", Option{User: "exec"}, "postgres://exec@localhost:5432?sslmode=disable"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.opt.dsn()
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestOptionDSNInvalidPort(t *testing.T) {
	_, err := Option{Port: 70000}.dsn()
	require.Error(t, err)
}

func TestOptionRedacted(t *testing.T) {
	opt := Option{Host: "db", User: "exec", Password: "secret"}
	require.Equal(t, "postgres://exec:xxxxx@db:5432?sslmode=disable", opt.redacted())
	require.NotContains(t, opt.redacted(), "secret")
}
