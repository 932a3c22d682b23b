package decode

import (
	"archive/zip"
	"bytes"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestLoadDataFrameSniffsSemicolonCSV(t *testing.T) {
	raw := []byte("Código Município;Município;População\n3121605;Diamantina;45780\n3106200;Belo Horizonte;2315560\n")

	df, err := LoadDataFrame(raw, ".csv", Options{})
	if err != nil {
		t.Fatalf("LoadDataFrame returned error: %v", err)
	}
	if df.Nrow() != 2 {
		t.Fatalf("expected 2 rows, got %d", df.Nrow())
	}

	names := df.Names()
	want := []string{"codigo_municipio", "municipio", "populacao"}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("column %d: expected %q, got %q", i, n, names[i])
		}
	}
	if got := df.Col("populacao").Records()[0]; got != "45780" {
		t.Errorf("expected populacao 45780, got %q", got)
	}
}

func TestLoadDataFrameDecodesLatin1(t *testing.T) {
	enc := charmap.Windows1252.NewEncoder()
	raw, err := enc.Bytes([]byte("município;ano;frota\nSão João;2024;120\n"))
	if err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}

	df, derr := LoadDataFrame(raw, ".csv", Options{})
	if derr != nil {
		t.Fatalf("LoadDataFrame returned error: %v", derr)
	}
	if got := df.Col("municipio").Records()[0]; got != "São João" {
		t.Errorf("expected decoded name, got %q", got)
	}
}

func TestLoadDataFrameSkipsINMETPreamble(t *testing.T) {
	raw := []byte("REGIAO:;SE\nUF:;MG\nESTACAO:;DIAMANTINA\nData;Hora;Precipitação Total, Horário (mm)\n2024/01/01;0000;1,2\n2024/01/01;0100;0\n")

	df, err := LoadDataFrame(raw, ".csv", Options{})
	if err != nil {
		t.Fatalf("LoadDataFrame returned error: %v", err)
	}
	if df.Nrow() != 2 {
		t.Fatalf("expected 2 data rows after preamble skip, got %d", df.Nrow())
	}
	if names := df.Names(); names[0] != "data" || names[1] != "hora" {
		t.Errorf("unexpected header after preamble skip: %v", names)
	}
}

func TestLoadDataFramePicksPreferredZipEntry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"leia-me.txt":    "documentação\n",
		"frota_2024.csv": "codigo_municipio;frota\n3121605;980\n",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	df, err := LoadDataFrame(buf.Bytes(), ".zip", Options{PreferredZipEntries: []string{"frota"}})
	if err != nil {
		t.Fatalf("LoadDataFrame returned error: %v", err)
	}
	if got := df.Col("frota").Records()[0]; got != "980" {
		t.Errorf("expected frota 980, got %q", got)
	}
}

func TestLoadDataFrameReadsCKANEnvelope(t *testing.T) {
	raw := []byte(`{"result":{"records":[{"codigo_ibge":"3121605","valor":45780},{"codigo_ibge":"3106200","valor":2315560}]}}`)

	df, err := LoadDataFrame(raw, ".json", Options{})
	if err != nil {
		t.Fatalf("LoadDataFrame returned error: %v", err)
	}
	if df.Nrow() != 2 {
		t.Fatalf("expected 2 records, got %d", df.Nrow())
	}
	if got := df.Col("valor").Records()[0]; got != "45780" {
		t.Errorf("expected valor 45780, got %q", got)
	}
}

func TestLoadDataFrameRefusesXLS(t *testing.T) {
	if _, err := LoadDataFrame([]byte{0xd0, 0xcf, 0x11, 0xe0}, ".xls", Options{}); err == nil {
		t.Fatal("expected an error for legacy .xls payloads")
	}
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"45780", 45780, true},
		{"1.234,56", 1234.56, true},
		{"1234,56", 1234.56, true},
		{"R$ 2.500,00", 2500, true},
		{"87,5%", 87.5, true},
		{"-", 0, false},
		{"...", 0, false},
		{"nan", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseDecimal(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseDecimal(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"Código Município":  "codigo_municipio",
		"  São João  ":      "sao_joao",
		"QT_ELEITORES (UF)": "qt_eleitores_uf",
		"Ano de Referência": "ano_de_referencia",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDigitsOnly(t *testing.T) {
	if got := DigitsOnly("31.216-05"); got != "3121605" {
		t.Errorf("DigitsOnly = %q, want 3121605", got)
	}
}
