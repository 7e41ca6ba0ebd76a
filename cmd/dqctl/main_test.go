package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dataquality-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func techCommerceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range testutil.TechCommerceFiles() {
		testutil.WriteFile(t, dir, name, content)
	}
	return dir
}

func TestRun(t *testing.T) {
	data := techCommerceDir(t)
	work := t.TempDir()
	outDir := filepath.Join(work, "out")
	metricsFile := filepath.Join(work, "textfile", "dq.prom")
	auditFile := filepath.Join(work, "audit.jsonl")
	dbFile := filepath.Join(work, "dq.db")

	out, err := execute(t, "run",
		"--data-dir", data,
		"--output-dir", outDir,
		"--metrics-file", metricsFile,
		"--audit-file", auditFile,
		"--sqlite", dbFile,
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "数据质量执行报告")
	assert.Contains(t, out, "vendas")

	body, err := os.ReadFile(filepath.Join(outDir, "report.json"))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.NotEmpty(t, decoded["run_id"])

	text, err := os.ReadFile(filepath.Join(outDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, out, string(text))

	customers, err := os.ReadFile(filepath.Join(outDir, "clientes_cleaned.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(customers)), "\n")
	assert.Equal(t, "id_cliente,nome,email,telefone,data_nascimento,cidade,estado,data_cadastro", lines[0])
	assert.Len(t, lines, 16)

	sales, err := os.ReadFile(filepath.Join(outDir, "vendas_cleaned.csv"))
	require.NoError(t, err)
	saleRows := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(string(sales)), "\n")[1:] {
		saleRows[strings.SplitN(line, ",", 2)[0]] = line
	}
	assert.NotContains(t, saleRows, "1003")
	assert.NotContains(t, saleRows, "1004")
	assert.Contains(t, saleRows["1002"], ",5000,")

	for _, name := range []string{"produtos_cleaned.csv", "logistica_cleaned.csv"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `dataquality_runs_total{outcome="success"} 1`)

	audit, err := os.ReadFile(auditFile)
	require.NoError(t, err)
	assert.Equal(t, 4, bytes.Count(audit, []byte("\n")))

	_, err = os.Stat(dbFile)
	assert.NoError(t, err)
}

func TestRun_FailUnder(t *testing.T) {
	_, err := execute(t, "run", "--data-dir", techCommerceDir(t), "--fail-under", "100.01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "低于 100.01")
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "配置有效: 4 个数据集")
	assert.Contains(t, out, "1. clientes")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alerting:\n  thresholds:\n    validity: 150\n"), 0o644))
	_, err = execute(t, "validate", "--config", path)
	assert.Error(t, err)
}

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "数据质量批处理工具")
	assert.Contains(t, out, "校验质量配置并输出清洗顺序")

	out, err = execute(t, "run", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "<名称>_cleaned.csv")
}
