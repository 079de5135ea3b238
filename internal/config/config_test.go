package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"execcore/internal/order"
	"execcore/internal/risk"
	"execcore/internal/session"
	"execcore/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvUsername, EnvPassword, EnvSecret, EnvJournalPassword, EnvRedisPassword} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	loaded, err := Load("")
	require.NoError(t, err)

	require.Equal(t, risk.Moderate, loaded.Profile.Name)
	require.Equal(t, 0.5, loaded.Profile.KellyMultiplier)
	require.Len(t, loaded.Profiles, 3)
	require.Equal(t, session.TCPDialer{
		Addr:        "127.0.0.1:9878",
		DialTimeout: session.DefaultDialTimeout,
		KeepAlive:   session.DefaultKeepAlive,
	}, loaded.Dialer)
	require.Equal(t, 100*time.Millisecond, loaded.Orchestrator.TickInterval)
	require.Equal(t, "EXEC", loaded.Orchestrator.Session.SenderCompID)
	require.Equal(t, order.SideBuy, loaded.Orchestrator.Side)
	require.Empty(t, loaded.Credentials.Username)
	require.False(t, loaded.Journal.Enabled())
}

const fullYAML = `
profile: aggressive
profiles:
  aggressive: {kellyMultiplier: 0.8, maxPositionPct: 20, maxDailyDrawdownPct: 8}
session:
  transport: ws
  host: localhost
  port: 9000
  path: /fix
  senderCompId: DESK
  targetCompId: EXCH
  heartBtInt: 5s
  resetSeqNumOnLogon: false
  backoff: {min: 500ms, max: 10s, factor: 2, jitter: 0.1}
orchestrator:
  tickInterval: 250ms
  instrument: ETH-USD
  venue: SIM
  side: sell
  qtyStep: "0.01"
paper:
  winProbability: 0.6
  winLossRatio: 2
  price: "2500"
  equity: "50000"
chaos: {seed: 7, dropRate: 0.1}
journal: {host: db.local, database: exec}
`

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvJournalPassword, "hunter2")
	path := writeFile(t, t.TempDir(), "trader.yaml", fullYAML)

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, risk.Profile{Name: risk.Aggressive, KellyMultiplier: 0.8, MaxPositionPct: 20, MaxDailyDrawdownPct: 8}, loaded.Profile)
	require.Len(t, loaded.Profiles, 3)
	require.Equal(t, session.WSDialer{URL: "ws://localhost:9000/fix", HandshakeTimeout: session.DefaultDialTimeout}, loaded.Dialer)

	sess := loaded.Orchestrator.Session
	require.Equal(t, "DESK", sess.SenderCompID)
	require.Equal(t, "EXCH", sess.TargetCompID)
	require.Equal(t, 5*time.Second, sess.HeartBtInt)
	require.False(t, sess.ResetSeqNumOnLogon)
	require.Equal(t, 10*time.Second, sess.LogonTimeout, "unset keys keep their defaults")

	orch := loaded.Orchestrator
	require.Equal(t, 250*time.Millisecond, orch.TickInterval)
	require.Equal(t, 2*time.Second, orch.EmergencyLogoutTimeout)
	require.Equal(t, "ETH-USD", orch.Instrument)
	require.Equal(t, order.SideSell, orch.Side)
	require.True(t, orch.QtyStep.Equal(decimal.RequireFromString("0.01")))
	require.Equal(t, 500*time.Millisecond, orch.Backoff.Min)
	require.Equal(t, 0.1, orch.Chaos.DropRate)
	require.Equal(t, int64(7), orch.Chaos.Seed)

	require.Equal(t, 0.6, loaded.Signal.WinProbability)
	require.True(t, loaded.Signal.Price.Equal(decimal.NewFromInt(2500)))
	require.True(t, loaded.Account.Equity.Equal(decimal.NewFromInt(50000)))

	require.True(t, loaded.Journal.Enabled())
	require.Equal(t, "hunter2", loaded.Journal.Password)
	require.Equal(t, 5432, loaded.Journal.Port)
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "trader.json", `{"profile": "conservative", "session": {"port": 7001}}`)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, risk.Conservative, loaded.Profile.Name)
	require.Equal(t, "127.0.0.1:7001", loaded.Dialer.(session.TCPDialer).Addr)
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	loaded, err := Load(writeFile(t, t.TempDir(), "empty.yaml", ""))
	require.NoError(t, err)
	require.Equal(t, risk.Moderate, loaded.Profile.Name)
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"unknown key", "profil: moderate"},
		{"unknown profile", "profile: reckless"},
		{"unknown profile entry", "profiles: {reckless: {kellyMultiplier: 0.5, maxPositionPct: 10, maxDailyDrawdownPct: 5}}"},
		{"kelly above one", "profiles: {moderate: {kellyMultiplier: 1.5, maxPositionPct: 10, maxDailyDrawdownPct: 5}}"},
		{"partial profile", "profiles: {moderate: {kellyMultiplier: 0.5}}"},
		{"whiten under threshold", "entropy: {minThreshold: 256, whitenSize: 128}"},
		{"tick too fast", "orchestrator: {tickInterval: 10ms}"},
		{"unknown transport", "session: {transport: udp}"},
		{"missing comp id", "session: {senderCompId: ''}"},
		{"drop rate", "chaos: {dropRate: 2}"},
		{"probability", "paper: {winProbability: 1.2}"},
		{"negative step", "orchestrator: {qtyStep: '-1'}"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeFile(t, t.TempDir(), "bad.yaml", c.doc))
			require.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCredentialsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvUsername, "trader")
	t.Setenv(EnvPassword, "pw")
	t.Setenv(EnvSecret, "shared")

	loaded, err := Load("")
	require.NoError(t, err)
	require.Equal(t, session.Credentials{Username: "trader", Password: []byte("pw"), Secret: []byte("shared")}, loaded.Credentials)

	t.Setenv(EnvSecret, "")
	_, err = Load("")
	require.ErrorIs(t, err, exception.ErrInvalidConfig)
}
