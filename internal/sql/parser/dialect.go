package parser

import "strings"

// dialectKeywords maps the second keyword set onto the canonical English
// keywords. Normalization happens at the token level, so both dialects parse
// to identical command records. Dialect words are reserved: an identifier
// spelled "dari" is read as FROM, and a quoted string is not accepted where
// an identifier is expected, so keyword treatment cannot be escaped.
var dialectKeywords = map[string]string{
	"BUAT":      "CREATE",
	"TABEL":     "TABLE",
	"MASUKKAN":  "INSERT",
	"KE":        "INTO",
	"NILAI":     "VALUES",
	"PILIH":     "SELECT",
	"DARI":      "FROM",
	"DIMANA":    "WHERE",
	"DAN":       "AND",
	"ATAU":      "OR",
	"BUKAN":     "NOT",
	"ANTARA":    "BETWEEN",
	"DALAM":     "IN",
	"SEPERTI":   "LIKE",
	"ADALAH":    "IS",
	"KOSONG":    "NULL",
	"BENAR":     "TRUE",
	"SALAH":     "FALSE",
	"UBAH":      "UPDATE",
	"HAPUS":     "DELETE",
	"URUTKAN":   "ORDER",
	"BERDASAR":  "BY",
	"KELOMPOK":  "GROUP",
	"MEMILIKI":  "HAVING",
	"NAIK":      "ASC",
	"TURUN":     "DESC",
	"BATAS":     "LIMIT",
	"GESER":     "OFFSET",
	"UNIK":      "DISTINCT",
	"GABUNG":    "JOIN",
	"KIRI":      "LEFT",
	"KANAN":     "RIGHT",
	"PENUH":     "FULL",
	"LUAR":      "OUTER",
	"SILANG":    "CROSS",
	"PADA":      "ON",
	"INDEKS":    "INDEX",
	"TAMPILKAN": "SHOW",
	"STATISTIK": "STATS",
	"JELASKAN":  "EXPLAIN",
	"MULAI":     "BEGIN",
	"SELESAI":   "COMMIT",
	"BATAL":     "ROLLBACK",
	"LIHAT":     "VIEW",
	"SEBAGAI":   "AS",
	"TENTUKAN":  "DEFINE",
	"SKEMA":     "SCHEMA",
	"PEMICU":    "TRIGGER",
	"SEBELUM":   "BEFORE",
	"SESUDAH":   "AFTER",
	"LAKUKAN":   "DO",
	"PROSEDUR":  "PROCEDURE",
	"JALANKAN":  "EXECUTE",
	"CADANGKAN": "BACKUP",
	"PULIHKAN":  "RESTORE",
	"WAJIB":     "REQUIRED",
	"BAWAAN":    "DEFAULT",
}

// normalizeDialect rewrites dialect keyword tokens to their canonical form.
// Identifier tokens that are not dialect keywords pass through unchanged.
func normalizeDialect(toks []Token) []Token {
	for i := range toks {
		if toks[i].Kind != TokIdent {
			continue
		}
		if canon, ok := dialectKeywords[strings.ToUpper(toks[i].Text)]; ok {
			toks[i].Text = canon
		}
	}
	return toks
}
