package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdanthq/cropsense/internal/testutil"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc1234", "2026-08-28")

	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cropsense 1.2.3")
	assert.Contains(t, out, "abc1234")
}

func TestConditionsCommandListsBuiltins(t *testing.T) {
	out, err := executeCommand(t, "conditions")
	require.NoError(t, err)
	assert.Contains(t, out, "late_blight")
	assert.Contains(t, out, "aphids")
	assert.Contains(t, out, "CONDITION")
}

func TestBuildAnalysisRequest(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "leaf.png")
	require.NoError(t, os.WriteFile(imgPath, testutil.PNGImage(t, 32, 32), 0o644))

	t.Run("maps flags onto request", func(t *testing.T) {
		analyzeCrop = "potato"
		analyzeStage = "flowering"
		analyzeNotes = "lower leaves spotted"
		analyzeSource = "drone"
		analyzeSkipSecondary = true

		req, err := buildAnalysisRequest(analyzeCmd, []string{imgPath})
		require.NoError(t, err)

		require.Len(t, req.Images, 1)
		assert.Equal(t, "leaf.png", req.Images[0].Name)
		assert.Equal(t, "drone", req.Images[0].Source)
		assert.Equal(t, "potato", req.CropType)
		assert.Equal(t, "flowering", req.GrowthStage)
		assert.Equal(t, "lower leaves spotted", req.FieldNotes)
		assert.True(t, req.SkipSecondary)
		assert.Nil(t, req.Location)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := buildAnalysisRequest(analyzeCmd, []string{filepath.Join(dir, "missing.png")})
		require.Error(t, err)
	})

	t.Run("latitude alone is rejected", func(t *testing.T) {
		require.NoError(t, analyzeCmd.Flags().Set("lat", "52.1"))
		_, err := buildAnalysisRequest(analyzeCmd, []string{imgPath})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--lon")
	})

	t.Run("both coordinates attach a location", func(t *testing.T) {
		require.NoError(t, analyzeCmd.Flags().Set("lon", "5.2"))
		req, err := buildAnalysisRequest(analyzeCmd, []string{imgPath})
		require.NoError(t, err)
		require.NotNil(t, req.Location)
		assert.InDelta(t, 52.1, req.Location.Lat, 1e-9)
		assert.InDelta(t, 5.2, req.Location.Lon, 1e-9)
	})
}
