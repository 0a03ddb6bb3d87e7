package selector

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
	"github.com/dbmirror/dbmirror/src/testutil"
)

func TestCandidates(t *testing.T) {
	srv := testutil.NewServer()
	for _, name := range []string{"mysql", "shop", "information_schema", "crm", "sys", "performance_schema"} {
		srv.AddDatabase(name, "utf8mb4")
	}
	sess, err := srv.Connect(context.Background(), dbconn.ConnectionProfile{Host: "mem"})
	require.NoError(t, err)
	defer sess.Close()

	got, err := Candidates(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, []string{"crm", "shop"}, got)

	srv.DatabasesErr = errors.New("access denied")
	_, err = Candidates(context.Background(), sess)
	assert.ErrorContains(t, err, "access denied")
}

func TestResolve(t *testing.T) {
	candidates := []string{"shop", "crm", "billing"}

	tests := []struct {
		name      string
		requested []string
		want      []string
		wantErr   error
	}{
		{name: "names", requested: []string{"crm", "shop"}, want: []string{"crm", "shop"}},
		{name: "indexes", requested: []string{"3", " 1 "}, want: []string{"billing", "shop"}},
		{name: "star", requested: []string{"*"}, want: candidates},
		{name: "all with duplicate", requested: []string{"crm", "ALL"}, want: []string{"crm", "shop", "billing"}},
		{name: "unknown name", requested: []string{"hr"}, wantErr: ErrUnknownDatabase},
		{name: "index out of range", requested: []string{"4"}, wantErr: ErrUnknownDatabase},
		{name: "empty", requested: []string{"", " "}, wantErr: ErrNothingSelected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(candidates, tt.requested)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_NumericName(t *testing.T) {
	got, err := Resolve([]string{"shop", "2024"}, []string{"2024", "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024", "shop"}, got)
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	got, err := Prompt(strings.NewReader("2, shop\n"), &out, []string{"shop", "crm"})
	require.NoError(t, err)
	assert.Equal(t, []string{"crm", "shop"}, got)
	assert.Contains(t, out.String(), "  1) shop\n  2) crm\n")

	got, err = Prompt(strings.NewReader("*"), &out, []string{"shop", "crm"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop", "crm"}, got)

	_, err = Prompt(strings.NewReader(""), &out, []string{"shop"})
	assert.Error(t, err)

	_, err = Prompt(strings.NewReader("1\n"), &out, nil)
	assert.ErrorIs(t, err, ErrNothingSelected)
}
