package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/movimentacao/internal/core"
)

var genTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_doGenerate(t *testing.T) {
	input := writeInput(t, "beneficiarios.csv",
		"seq;tipo;plano;codigo;nome;cpf\n"+
			"9;C;PLANO;C1;Ana;529.982.247-25\n"+
			"9;N;PLANO;C2;Bruno;123.456.789-01\n")

	var stdout, stderr bytes.Buffer
	cfg := &generateConfig{rootConfig: &rootConfig{}, Account: "123", Input: input, Output: "-"}
	require.NoError(t, doGenerate(context.Background(), cfg, &stdout, &stderr, genTime))

	lines := strings.Split(stdout.String(), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "1|H|MOVIMENTACAO|123|20240305140709", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "2|C|PLANO|C1|Ana|52998224725|"), lines[1])
	require.Equal(t, "4|T|1|0|1|0|0|0|0|4", lines[3])
	require.Contains(t, stderr.String(), "invalid CPF in rows [2]")
}

func Test_doGenerate_File(t *testing.T) {
	input := writeInput(t, "b.csv", "a;b;c;d;e;f\n1;N;P;C;Nome;52998224725\n")
	output := filepath.Join(t.TempDir(), "out.txt")

	var stdout, stderr bytes.Buffer
	cfg := &generateConfig{rootConfig: &rootConfig{}, Account: "9", Input: input, Output: output}
	require.NoError(t, doGenerate(context.Background(), cfg, &stdout, &stderr, genTime))
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "wrote 1 records")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(data), "3|T|1|0|0|0|0|0|0|3"))
}

func Test_doGenerate_Errors(t *testing.T) {
	good := writeInput(t, "b.csv", "a;b;c;d;e;f\n1;N;P;C;Nome;52998224725\n")
	invalidCPF := writeInput(t, "c.csv", "a;b;c;d;e;f\n1;N;P;C;Nome;12345678901\n")
	headerOnly := writeInput(t, "d.csv", "h\n")

	tests := []struct {
		name  string
		cfg   generateConfig
		usage bool
		want  string
	}{
		{name: "no account", cfg: generateConfig{Input: good}, usage: true, want: "--account"},
		{name: "no input", cfg: generateConfig{Account: "1"}, usage: true, want: "--input"},
		{name: "missing file", cfg: generateConfig{Account: "1", Input: filepath.Join(t.TempDir(), "x.csv")}, want: "no such file"},
		{name: "header only", cfg: generateConfig{Account: "1", Input: headerOnly}, want: "empty file"},
		{name: "strict", cfg: generateConfig{Account: "1", Input: invalidCPF, Strict: true, Output: "-"}, want: "invalid CPF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.rootConfig = &rootConfig{}
			var stdout, stderr bytes.Buffer
			err := doGenerate(context.Background(), &tt.cfg, &stdout, &stderr, genTime)
			require.Error(t, err)
			require.Equal(t, tt.usage, usageErr.Has(err))
			require.Contains(t, err.Error(), tt.want)
			if tt.name == "header only" {
				require.ErrorIs(t, err, core.ErrEmptyFile)
			}
		})
	}
}

func Test_doCPF(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, doCPF([]string{"529.982.247-25"}, &out))
	require.Equal(t, "52998224725\tvalid\n", out.String())

	out.Reset()
	err := doCPF([]string{"52998224725", "11111111111"}, &out)
	require.Error(t, err)
	require.Contains(t, out.String(), "11111111111\tinvalid")
}

func Test_doLayout(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, doLayout(&layoutConfig{Output: "-"}, &out))

	f, err := excelize.OpenReader(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []string{core.LayoutDataSheet, core.LayoutFieldsSheet}, f.GetSheetList())
}

func Test_doFields(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, doFields(&out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, core.FieldCount+1)
	require.Contains(t, lines[1], core.FieldSequencialRegistro)
}

func Test_rootCommand(t *testing.T) {
	cmd := newRootCommand()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"generate", "cpf", "layout", "fields"})
}
