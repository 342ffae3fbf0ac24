// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package convert

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	b := NewBuilder(Defaults{})

	tests := []struct {
		name string
		in   Params
		want Request
	}{
		{
			name: "empty input uses defaults",
			in:   Params{},
			want: Request{Format: "wav", SampleRate: 16000, Channels: 1},
		},
		{
			name: "mp3 without bitrate gets default",
			in:   Params{Format: "mp3", SampleRate: "44100", Channels: "2"},
			want: Request{Format: "mp3", SampleRate: 44100, Channels: 2, Bitrate: "192k"},
		},
		{
			name: "mp3 keeps explicit bitrate",
			in:   Params{Format: "MP3", Bitrate: " 128K "},
			want: Request{Format: "mp3", SampleRate: 16000, Channels: 1, Bitrate: "128k"},
		},
		{
			name: "bare mp3 bitrate is kbps",
			in:   Params{Format: "mp3", Bitrate: "128"},
			want: Request{Format: "mp3", SampleRate: 16000, Channels: 1, Bitrate: "128k"},
		},
		{
			name: "wav drops bitrate",
			in:   Params{Format: "wav", Bitrate: "320k"},
			want: Request{Format: "wav", SampleRate: 16000, Channels: 1},
		},
		{
			name: "unusable numbers are coerced",
			in:   Params{Format: "wav", SampleRate: "-5", Channels: "stereo"},
			want: Request{Format: "wav", SampleRate: 16000, Channels: 1},
		},
		{
			name: "zero is coerced",
			in:   Params{SampleRate: "0", Channels: "0"},
			want: Request{Format: "wav", SampleRate: 16000, Channels: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Build(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_Rejects(t *testing.T) {
	b := NewBuilder(DefaultDefaults)

	_, err := b.Build(Params{Format: "flac"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "format", verr.Field)
	assert.ErrorIs(t, err, ErrInvalid)

	for _, bad := range []string{"fast", "192kbps", "0k", "-1"} {
		_, err := b.Build(Params{Format: "mp3", Bitrate: bad})
		require.Error(t, err, bad)
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "bitrate", verr.Field)
	}
}

func TestBuild_ConfiguredDefaults(t *testing.T) {
	b := NewBuilder(Defaults{Format: "mp3", SampleRate: 48000, Channels: 2, MP3Bitrate: "256k"})
	got, err := b.Build(Params{})
	require.NoError(t, err)
	assert.Equal(t, Request{Format: "mp3", SampleRate: 48000, Channels: 2, Bitrate: "256k"}, got)
}

func TestRequest_JSONBitrateKey(t *testing.T) {
	b := NewBuilder(DefaultDefaults)

	wav, err := b.Build(Params{Format: "wav", Bitrate: "128k"})
	require.NoError(t, err)
	body, err := json.Marshal(wav)
	require.NoError(t, err)
	assert.JSONEq(t, `{"format":"wav","sample_rate":16000,"channels":1}`, string(body))

	mp3, err := b.Build(Params{Format: "mp3"})
	require.NoError(t, err)
	body, err = json.Marshal(mp3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"format":"mp3","sample_rate":16000,"channels":1,"bitrate":"192k"}`, string(body))
}
