package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandLineFlags(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
		want  map[string]interface{}
	}{
		{
			name:  "nothing set",
			setup: func() {},
			want:  map[string]interface{}{},
		},
		{
			name:  "verbose implies debug logging",
			setup: func() { verbose = true },
			want:  map[string]interface{}{"log-level": "debug"},
		},
		{
			name: "explicit level wins over verbose",
			setup: func() {
				verbose = true
				logLevel = "warn"
			},
			want: map[string]interface{}{"log-level": "warn"},
		},
		{
			name: "run overrides",
			setup: func() {
				debugMode = true
				downloadDir = "/tmp/klarna_csv"
				worksheet = "Refunds 2026"
			},
			want: map[string]interface{}{
				"debug":        true,
				"download-dir": "/tmp/klarna_csv",
				"worksheet":    "Refunds 2026",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logLevel, verbose, debugMode, downloadDir, worksheet = "", false, false, "", ""
			t.Cleanup(func() {
				logLevel, verbose, debugMode, downloadDir, worksheet = "", false, false, "", ""
			})
			tt.setup()
			assert.Equal(t, tt.want, commandLineFlags())
		})
	}
}

func TestSplitJoined(t *testing.T) {
	err := errors.Join(errors.New("portal URL is required"), errors.New("invalid log level"))
	assert.Equal(t, []string{"portal URL is required", "invalid log level"}, splitJoined(err))
	assert.Equal(t, []string{"single"}, splitJoined(errors.New("single")))
}

func TestSubcommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"config", "init"}, {"config", "show"}, {"config", "validate"},
		{"auth", "login"}, {"auth", "logout"}, {"auth", "status"},
	} {
		cmd, _, err := rootCmd.Find(path)
		assert.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, rootCmd.Flags().Lookup("skip-sheets"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}
