package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/maltedev/lmpc-scraper/internal/events"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTally(t *testing.T) {
	var buf bytes.Buffer
	tl := newTally(slog.New(slog.NewTextHandler(&buf, nil)))

	payloads := []*events.ComplianceCheckedPayload{
		{IdentityKey: "https://shop.example/p/1", OverallStatus: models.StatusViolation, ViolatedRules: []string{"LM-01-MANUFACTURER"}},
		{IdentityKey: "https://shop.example/p/2", OverallStatus: models.StatusCompliant},
		{IdentityKey: "https://shop.example/p/3", OverallStatus: models.StatusViolation},
	}
	for _, p := range payloads {
		require.NoError(t, tl.Handle(context.Background(), p))
	}

	counts := tl.Counts()
	assert.Equal(t, 2, counts[models.StatusViolation])
	assert.Equal(t, 1, counts[models.StatusCompliant])
	assert.Contains(t, buf.String(), "compliance violation")
	assert.Contains(t, buf.String(), "LM-01-MANUFACTURER")
}
