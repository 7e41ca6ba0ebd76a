package ingestion

import (
	"context"
	"testing"
	"time"

	"dataquality-service/service/audit"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func newPipeline(t *testing.T) (*Pipeline, *audit.GormStore) {
	t.Helper()
	testDB := testutil.NewTestDB()
	t.Cleanup(testDB.Close)
	store := audit.NewGormStore(testDB.DB)
	recorder := audit.NewRecorder(testutil.Clock(testutil.FixedNow), store)
	return NewPipeline(config.Default(), recorder), store
}

func TestIngest_Customers(t *testing.T) {
	p, store := newPipeline(t)
	ctx := audit.WithRunID(context.Background(), "run-1")

	ds, err := p.Ingest(ctx, BytesSource{Name: "clientes", Data: []byte(testutil.CustomersCSV())})
	require.NoError(t, err)

	assert.Equal(t, 16, ds.Len())
	assert.Equal(t, []string{"id_cliente", "nome", "email", "telefone", "data_nascimento", "cidade", "estado", "data_cadastro"}, ds.Columns)
	assert.True(t, models.Number(1).Equal(ds.Records[0]["id_cliente"]))
	assert.Equal(t, models.KindDate, ds.Records[0]["data_cadastro"].Kind)
	assert.Equal(t, "2024-01-15", ds.Records[0]["data_cadastro"].String())

	entries, err := store.List(ctx, "clientes", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, 16, entries[0].Rows)
	assert.Equal(t, 8, entries[0].Columns)
	assert.Equal(t, audit.Fingerprint([]byte(testutil.CustomersCSV())), entries[0].Fingerprint)
	assert.Contains(t, entries[0].Details, "null_pct")
}

func TestIngest_UnchangedShortCircuits(t *testing.T) {
	p, store := newPipeline(t)
	ctx := context.Background()
	src := BytesSource{Name: "produtos", Data: []byte(testutil.ProductsCSV())}

	first, err := p.Ingest(ctx, src)
	require.NoError(t, err)
	second, err := p.Ingest(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, first.Len(), second.Len())

	// 修改快照副本不影响下一次复用
	second.Records[0]["preco"] = models.Number(1)
	third, err := p.Ingest(ctx, src)
	require.NoError(t, err)
	assert.True(t, models.Number(4500).Equal(third.Records[0]["preco"]))

	entries, err := store.List(ctx, "produtos", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.OutcomeUnchanged, entries[0].Outcome)
	assert.Equal(t, models.OutcomeUnchanged, entries[1].Outcome)
	assert.Equal(t, models.OutcomeSuccess, entries[2].Outcome)
}

func TestIngest_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		problem string
	}{
		{
			name:    "缺少声明列",
			data:    "id_produto,nome_produto,preco\n1,Livro,10\n",
			problem: "缺少声明列 categoria",
		},
		{
			name: "强制列全部为空",
			data: "id_produto,nome_produto,categoria,preco,estoque,data_criacao,ativo\n" +
				"1,Livro,Livros,,1,2024-01-01,true\n2,Caneta,Casa,,3,2024-01-01,true\n",
			problem: "强制列 preco 全部为空",
		},
		{
			name:    "空文件",
			data:    "",
			problem: "文件为空，缺少表头",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store := newPipeline(t)
			ctx := context.Background()

			_, err := p.Ingest(ctx, BytesSource{Name: "produtos", Data: []byte(tt.data)})
			require.Error(t, err)
			assert.True(t, models.IsSchemaError(err))
			assert.Contains(t, err.Error(), tt.problem)

			entries, err := store.List(ctx, "produtos", 0)
			require.NoError(t, err)
			require.Len(t, entries, 1, "失败的摄取也必须恰好记录一次")
			assert.Equal(t, models.OutcomeSchemaError, entries[0].Outcome)
			assert.NotEmpty(t, entries[0].Errors)
		})
	}
}

func TestIngest_ExtraColumnsAndMismatches(t *testing.T) {
	p, store := newPipeline(t)
	ctx := context.Background()
	data := "id_produto,nome_produto,categoria,preco,estoque,data_criacao,ativo,fornecedor\n" +
		"1,Livro,Livros,abc,1,01/02/2024,true,ACME\n" +
		"2,Caneta,Casa,2.5,3\n"

	ds, err := p.Ingest(ctx, BytesSource{Name: "produtos", Data: []byte(data)})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.False(t, ds.HasColumn("fornecedor"))
	assert.True(t, models.String("abc").Equal(ds.Records[0]["preco"]))
	assert.True(t, models.String("01/02/2024").Equal(ds.Records[0]["data_criacao"]))
	assert.True(t, ds.Records[1]["ativo"].IsNull())

	entries, err := store.List(ctx, "produtos", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, []string(entries[0].Warnings), "忽略未声明列 fornecedor")
	mismatches, ok := entries[0].Details["type_mismatches"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1.0, mismatches["preco"])
	assert.Equal(t, 1.0, mismatches["data_criacao"])
}

func TestIngest_Latin1(t *testing.T) {
	settings := config.Default()
	settings.Ingestion.Encoding = "latin1"
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	p := NewPipeline(settings, audit.NewRecorder(time.Now, audit.NewGormStore(testDB.DB)))

	utf8Text := "id_produto,nome_produto,categoria,preco,estoque,data_criacao,ativo\n1,Câmera,Eletrônicos,10,1,2024-01-01,true\n"
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(utf8Text))
	require.NoError(t, err)

	ds, err := p.Ingest(context.Background(), BytesSource{Name: "produtos", Data: encoded})
	require.NoError(t, err)
	assert.Equal(t, "Câmera", ds.Records[0]["nome_produto"].Str)
	assert.Equal(t, "Eletrônicos", ds.Records[0]["categoria"].Str)
}

func TestIngestAll_ContinuesPastFailures(t *testing.T) {
	p, store := newPipeline(t)
	dir := t.TempDir()
	for name, content := range testutil.TechCommerceFiles() {
		if name == "logistica.csv" {
			continue
		}
		testutil.WriteFile(t, dir, name, content)
	}
	testutil.WriteFile(t, dir, "vendas.csv", "id_venda,id_cliente\n1,2\n")

	settings := config.Default()
	settings.Ingestion.DataDir = dir
	batch := p.IngestAll(context.Background(), SourcesFromSettings(settings))

	assert.Len(t, batch.Datasets, 2)
	assert.Contains(t, batch.Datasets, "clientes")
	assert.Contains(t, batch.Datasets, "produtos")
	assert.Equal(t, []string{"logistica", "vendas"}, batch.ExcludedNames())
	assert.True(t, models.IsSchemaError(batch.Excluded["vendas"]))
	assert.Len(t, batch.Entries, 4)

	entries, err := store.List(context.Background(), "logistica", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomeLoadError, entries[0].Outcome)
}

func TestIngest_UndeclaredDataset(t *testing.T) {
	p, _ := newPipeline(t)
	_, err := p.Ingest(context.Background(), BytesSource{Name: "estoque", Data: []byte("a\n1\n")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未在配置中声明")
}
