package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyNameModifiers(t *testing.T) {
	testCases := []struct {
		name     string
		fileName string
		prefix   string
		suffix   string
		expected string
	}{
		{name: "no modifiers", fileName: "a.txt", expected: "a.txt"},
		{name: "prefix only", fileName: "a.txt", prefix: "node1-", expected: "node1-a.txt"},
		{name: "suffix only", fileName: "a.txt", suffix: "-v2", expected: "a-v2.txt"},
		{name: "both", fileName: "a.txt", prefix: "x-", suffix: "-y", expected: "x-a-y.txt"},
		{name: "no extension", fileName: "README", prefix: "p-", suffix: "-s", expected: "p-README-s"},
		{name: "dotfile style extension", fileName: "archive.tar.gz", suffix: "-s", expected: "archive.tar-s.gz"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ApplyNameModifiers(tc.fileName, tc.prefix, tc.suffix))
		})
	}
}

func TestISOUTC(t *testing.T) {
	ts := time.Date(2024, 5, 17, 12, 30, 45, 0, time.FixedZone("UTC+3", 3*3600))
	require.Equal(t, "2024-05-17T09:30:45Z", ISOUTC(ts))
}
