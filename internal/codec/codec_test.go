package codec

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/schema"
)

func newTestCodec() *Codec {
	return New(schema.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleDataset() *core.Dataset {
	ds := core.NewDataset()
	ds.Lists["provinces"] = []core.Record{{"id": "p1", "name": "Iloilo"}}
	ds.Lists["varieties"] = []core.Record{{"id": "v1", "name": "Dinorado", "code": "007"}}
	ds.Maps["pricing"] = map[string]float64{"rice": 42, "palay": 18.5}
	ds.Lists["palayPricing"] = []core.Record{{
		"id":        "pp1",
		"varietyId": "v1",
		"variety":   "Dinorado",
		"moistureRanges": []core.MoistureRange{
			{Range: "14-16", Price: 18.5},
			{Range: "17-20", Price: 17},
		},
	}}
	ds.Lists["logEntries"] = []core.Record{{
		"id":         "l1",
		"date":       "2024-01-05",
		"bags":       10.0,
		"grandTotal": 1250.5,
		"isLogged":   true,
		"remarks":    `line one, "quoted"`,
	}}
	return ds
}

func TestEncode_CanonicalLayout(t *testing.T) {
	c := newTestCodec()

	text, err := c.Encode(sampleDataset())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "[provinces]\nid,name\np1,Iloilo\n\n"))
	assert.Contains(t, text, "[warehouses]\nid,name,code,province,address\n\n")
	assert.Contains(t, text, "[pricing]\nkey,value\npalay,18.5\nrice,42\n\n")
	assert.Contains(t, text, `pp1,v1,Dinorado,"[{""range"":""14-16"",""price"":18.5},{""range"":""17-20"",""price"":17}]"`)
	assert.Contains(t, text, "1250.50")
	assert.True(t, strings.HasSuffix(text, "[customers]\nid,name,address,contactNumber\n\n"))

	// Sections appear in registry order.
	last := -1
	for _, name := range c.Registry().Names() {
		pos := strings.Index(text, "["+name+"]\n")
		require.GreaterOrEqual(t, pos, 0, name)
		assert.Greater(t, pos, last, name)
		last = pos
	}
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec()

	text, err := c.Encode(sampleDataset())
	require.NoError(t, err)

	ds, err := c.Decode(text)
	require.NoError(t, err)

	assert.Equal(t, "007", ds.Lists["varieties"][0]["code"])
	assert.Equal(t, map[string]float64{"rice": 42, "palay": 18.5}, ds.Maps["pricing"])
	assert.Equal(t, []core.MoistureRange{
		{Range: "14-16", Price: 18.5},
		{Range: "17-20", Price: 17},
	}, ds.Lists["palayPricing"][0]["moistureRanges"])

	entry := ds.Lists["logEntries"][0]
	assert.Equal(t, "l1", entry["id"])
	assert.Equal(t, 10.0, entry["bags"])
	assert.Equal(t, 1250.5, entry["grandTotal"])
	assert.Equal(t, true, entry["isLogged"])
	assert.Equal(t, `line one, "quoted"`, entry["remarks"])
	assert.Equal(t, "", entry["netKgs"])

	// A second cycle is byte-identical.
	again, err := c.Encode(ds)
	require.NoError(t, err)
	assert.Equal(t, text, again)
}

func TestDecode_EmptyAndCorrupt(t *testing.T) {
	c := newTestCodec()

	for _, text := range []string{"", "   \n\n", "\uFEFF"} {
		ds, err := c.Decode(text)
		require.NoError(t, err, "%q", text)
		assert.Empty(t, ds.Lists)
		assert.Empty(t, ds.Maps)
	}

	_, err := c.Decode("hello world\nnot a data file\n")
	assert.ErrorIs(t, err, core.ErrCorruptFile)
}

func TestDecode_BOMAndCRLF(t *testing.T) {
	c := newTestCodec()

	ds, err := c.Decode("\uFEFF[provinces]\r\nid,name\r\np1,Iloilo\r\n\r\n")
	require.NoError(t, err)
	require.Len(t, ds.Lists["provinces"], 1)
	assert.Equal(t, "Iloilo", ds.Lists["provinces"][0]["name"])
}

func TestDecode_AliasesAndLastWins(t *testing.T) {
	c := newTestCodec()

	text := "[provinces]\nid,name\np1,Old\n\n" +
		"[ricemills]\nid,name\nm1,Mill One\n\n" +
		"[Provinces]\nid,name\np2,New\n"

	ds, err := c.Decode(text)
	require.NoError(t, err)

	require.Len(t, ds.Lists["provinces"], 1)
	assert.Equal(t, "p2", ds.Lists["provinces"][0]["id"])
	require.Len(t, ds.Lists["riceMills"], 1)
	assert.Equal(t, "Mill One", ds.Lists["riceMills"][0]["name"])
}

func TestDecode_UnknownSectionPreserved(t *testing.T) {
	c := newTestCodec()

	ds, err := c.Decode("[provinces]\nid,name\n\n[futureStuff]\na,b\n1,2\n\n")
	require.NoError(t, err)
	require.Len(t, ds.Unknown, 1)
	assert.Equal(t, core.RawSection{Name: "futureStuff", Body: "a,b\n1,2"}, ds.Unknown[0])

	text, err := c.Encode(ds)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(text, "[customers]\nid,name,address,contactNumber\n\n[futureStuff]\na,b\n1,2\n\n"))
}

func TestDecodeList_HeaderDetection(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("provinces")

	recs := c.DecodeList(sec, "p1,Iloilo\np2,Capiz")
	require.Len(t, recs, 2)
	assert.Equal(t, core.Record{"id": "p1", "name": "Iloilo"}, recs[0])

	// Reordered header.
	recs = c.DecodeList(sec, "name,id\nIloilo,p1")
	require.Len(t, recs, 1)
	assert.Equal(t, core.Record{"id": "p1", "name": "Iloilo"}, recs[0])

	assert.NotNil(t, c.DecodeList(sec, ""))
	assert.Empty(t, c.DecodeList(sec, "\n\n"))
}

func TestDecodeList_LegacyHeaderKeysKept(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("sdoList")

	recs := c.DecodeList(sec, "id,name,contact_number,Position\ns1,Ana,0917,Officer")
	require.Len(t, recs, 1)
	assert.Equal(t, "0917", recs[0]["contact_number"])
	assert.Equal(t, "Officer", recs[0]["position"])
}

func TestDecodeList_MismatchedRows(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("provinces")

	recs := c.DecodeList(sec, "id,name\np1,Iloilo,extra\np2\n\n  \np3,Capiz")
	require.Len(t, recs, 3)
	assert.Equal(t, core.Record{"id": "p1", "name": "Iloilo"}, recs[0])
	assert.Equal(t, core.Record{"id": "p2", "name": ""}, recs[1])
	assert.Equal(t, "Capiz", recs[2]["name"])
}

func TestDecodeList_MultilineCell(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("logEntries")

	recs := c.DecodeList(sec, "id,date,remarks\nl1,2024-01-01,\"first line\nsecond line\"\nl2,2024-01-02,plain")
	require.Len(t, recs, 2)
	assert.Equal(t, "first line\nsecond line", recs[0]["remarks"])
	assert.Equal(t, "plain", recs[1]["remarks"])
}

func TestDecodeList_LegacyMoistureCells(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("palayPricing")

	body := strings.Join([]string{
		"id,varietyId,variety,moistureRanges",
		`pp1,v1,Dinorado,"[{\"range\":\"14-16\",\"price\":18.5}]"`,
		`pp2,v2,Sinandomeng,[{"range":"14-16","price":17}]`,
		`pp3,v3,Jasmine,"""[{""range"":""14-16"",""price"":""16.5""}]"""`,
		`pp4,v4,Broken,"{not json"`,
		`pp5,v5,Empty,`,
	}, "\n")

	recs := c.DecodeList(sec, body)
	require.Len(t, recs, 5)

	assert.Equal(t, []core.MoistureRange{{Range: "14-16", Price: 18.5}}, recs[0]["moistureRanges"])
	assert.Equal(t, []core.MoistureRange{{Range: "14-16", Price: 17}}, recs[1]["moistureRanges"])
	assert.Equal(t, "Sinandomeng", recs[1]["variety"])
	assert.Equal(t, []core.MoistureRange{{Range: "14-16", Price: 16.5}}, recs[2]["moistureRanges"])
	assert.Equal(t, []core.MoistureRange{}, recs[3]["moistureRanges"])
	assert.Equal(t, []core.MoistureRange{}, recs[4]["moistureRanges"])
}

func TestDecodeMoisture(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []core.MoistureRange
		ok   bool
	}{
		{"plain", `[{"range":"14-16","price":18.5}]`, []core.MoistureRange{{Range: "14-16", Price: 18.5}}, true},
		{"csv doubled", `"[{""range"":""14-16"",""price"":18.5}]"`, []core.MoistureRange{{Range: "14-16", Price: 18.5}}, true},
		{"backslash escaped", `[{\"range\":\"14-16\",\"price\":\"18.5\"}]`, []core.MoistureRange{{Range: "14-16", Price: 18.5}}, true},
		{"json string literal", `"[{\"range\":\"14-16\",\"price\":18.5}]"`, []core.MoistureRange{{Range: "14-16", Price: 18.5}}, true},
		{"numeric range", `[{"range":14,"price":18}]`, []core.MoistureRange{{Range: "14", Price: 18}}, true},
		{"empty array", `[]`, []core.MoistureRange{}, true},
		{"blank", `  `, []core.MoistureRange{}, true},
		{"garbage", `not json`, []core.MoistureRange{}, false},
		{"object", `{"range":"14-16"}`, []core.MoistureRange{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeMoisture(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeList_Coercion(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("logEntries")

	recs := c.DecodeList(sec, "id,date,bags,prNumber,grandTotal,isLogged,netKgs\nl1,2024-01-01,12,00451,\"₱1,200.50\",TRUE,7 sacks")
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, 12.0, rec["bags"])
	assert.Equal(t, "00451", rec["prNumber"])
	assert.Equal(t, 1200.5, rec["grandTotal"])
	assert.Equal(t, true, rec["isLogged"])
	assert.Equal(t, "7 sacks", rec["netKgs"])
}

func TestDecodeList_IDs(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("provinces")

	body := "name\nIloilo\nCapiz"
	first := c.DecodeList(sec, body)
	second := c.DecodeList(sec, body)
	require.Len(t, first, 2)

	for i := range first {
		id := first[i].ID()
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Equal(t, id, second[i].ID(), "ids are stable across loads")
	}
	assert.NotEqual(t, first[0].ID(), first[1].ID())

	dup := c.DecodeList(sec, "id,name\np1,A\np1,B")
	require.Len(t, dup, 2)
	assert.Equal(t, "p1", dup[0].ID())
	assert.NotEqual(t, "p1", dup[1].ID())
	assert.NotEmpty(t, dup[1].ID())
}

func TestDecodeMap(t *testing.T) {
	c := newTestCodec()
	sec, _ := c.Registry().Lookup("pricing")

	got := c.DecodeMap(sec, "key,value\npalay,18.5\nrice,\"1,250.00\"\nbad,abc\n,5\npalay,19")
	assert.Equal(t, map[string]float64{"palay": 19, "rice": 1250}, got)

	// Header is optional.
	got = c.DecodeMap(sec, "corn,12")
	assert.Equal(t, map[string]float64{"corn": 12}, got)
}

func TestCoerceRecord(t *testing.T) {
	c := newTestCodec()

	pp, _ := c.Registry().Lookup("palayPricing")
	out, err := c.CoerceRecord(pp, core.Record{
		"id":        "x",
		"varietyId": 7.0,
		"moisture_ranges": []any{
			map[string]any{"range": "14-16", "price": "18.5"},
		},
		"bogus": 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, core.Record{
		"id":              "x",
		"varietyId":       "7",
		"moisture_ranges": []core.MoistureRange{{Range: "14-16", Price: 18.5}},
	}, out)

	logs, _ := c.Registry().Lookup("logEntries")
	out, err = c.CoerceRecord(logs, core.Record{
		"date":       "2024-01-01",
		"bags":       "12",
		"grandTotal": "₱1,200.50",
		"isLogged":   "yes",
		"remarks":    nil,
	})
	require.NoError(t, err)
	assert.Equal(t, 12.0, out["bags"])
	assert.Equal(t, 1200.5, out["grandTotal"])
	assert.Equal(t, true, out["isLogged"])
	assert.Equal(t, "", out["remarks"])

	_, err = c.CoerceRecord(logs, core.Record{"remarks": map[string]any{"a": 1.0}})
	assert.ErrorIs(t, err, core.ErrInvalidItem)

	_, err = c.CoerceRecord(pp, core.Record{"moistureRanges": "nope"})
	assert.ErrorIs(t, err, core.ErrInvalidItem)
}

func TestSplitRow(t *testing.T) {
	tests := []struct {
		name    string
		row     string
		want    int
		jsonPos int
		expect  []string
	}{
		{"exact", "a,b,c", 3, -1, []string{"a", "b", "c"}},
		{"pad", "a", 3, -1, []string{"a", "", ""}},
		{"truncate", "a,b,c,d", 2, -1, []string{"a", "b"}},
		{"fold json", `a,[{"x":1},{"y":2}],c`, 3, 1, []string{"a", `[{"x":1},{"y":2}]`, "c"}},
		{"quoted comma", `a,"b,c"`, 2, -1, []string{"a", "b,c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, splitRow(tt.row, tt.want, tt.jsonPos))
		})
	}
}

func TestRoundTrip_AwkwardCells(t *testing.T) {
	tests := []struct {
		name    string
		section string
		record  core.Record
	}{
		{
			name:    "remarks holding a section header",
			section: "logEntries",
			record:  core.Record{"id": "l1", "date": "2024-01-05", "remarks": "note\n[provinces]\nid,name\nx,Hacked"},
		},
		{
			name:    "remarks opening with a quote before a header line",
			section: "logEntries",
			record:  core.Record{"id": "l1", "date": "2024-01-05", "remarks": "a\"\n[customers]\nb"},
		},
		{
			name:    "quote heavy text",
			section: "logEntries",
			record:  core.Record{"id": "l1", "date": "2024-01-05", "remarks": `he said "hi", then ""bye""`, "name": `"quoted"`},
		},
		{
			name:    "blank lines inside a cell",
			section: "logEntries",
			record:  core.Record{"id": "l1", "date": "2024-01-05", "remarks": "first\n\n\nlast"},
		},
		{
			name:    "cell ending in a newline",
			section: "customers",
			record:  core.Record{"id": "c1", "name": "Ana", "address": "Lot 4\n"},
		},
		{
			name:    "header-like single line",
			section: "customers",
			record:  core.Record{"id": "c1", "name": "[provinces]", "address": "[pricing]"},
		},
		{
			name:    "commas in address",
			section: "warehouses",
			record:  core.Record{"id": "w1", "name": "North", "code": "007", "address": "Brgy. 1, Iloilo City, Iloilo"},
		},
		{
			name:    "ranges with commas and quotes",
			section: "palayPricing",
			record: core.Record{"id": "pp1", "varietyId": "v1", "moistureRanges": []core.MoistureRange{
				{Range: `14,5-16 "dry"`, Price: 18.5},
				{Range: "[wet], 25+", Price: 0},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCodec()

			ds := core.NewDataset()
			ds.Lists["provinces"] = []core.Record{{"id": "p1", "name": "Iloilo"}}
			ds.Lists[tt.section] = append(ds.Lists[tt.section], tt.record)

			text, err := c.Encode(ds)
			require.NoError(t, err)

			got, err := c.Decode(text)
			require.NoError(t, err)

			assert.Equal(t, []core.Record{{"id": "p1", "name": "Iloilo"}}, got.Lists["provinces"])
			require.Len(t, got.Lists[tt.section], 1, text)
			for k, v := range tt.record {
				assert.Equal(t, v, got.Lists[tt.section][0][k], k)
			}

			again, err := c.Encode(got)
			require.NoError(t, err)
			assert.Equal(t, text, again)
		})
	}
}

func TestRoundTrip_EmptySections(t *testing.T) {
	c := newTestCodec()

	text, err := c.Encode(core.NewDataset())
	require.NoError(t, err)

	ds, err := c.Decode(text)
	require.NoError(t, err)
	for _, sec := range c.Registry().Sections() {
		if sec.IsList() {
			assert.NotNil(t, ds.Lists[sec.Name], sec.Name)
			assert.Empty(t, ds.Lists[sec.Name], sec.Name)
		} else {
			assert.NotNil(t, ds.Maps[sec.Name], sec.Name)
			assert.Empty(t, ds.Maps[sec.Name], sec.Name)
		}
	}
	assert.Empty(t, ds.Unknown)
}

func TestRoundTrip_LeadingZerosInOpaqueColumns(t *testing.T) {
	c := newTestCodec()

	ds := core.NewDataset()
	for _, sec := range c.Registry().Sections() {
		if !sec.IsList() {
			continue
		}
		rec := core.Record{}
		for _, col := range sec.Columns {
			if col.Type == schema.TypeOpaque {
				rec[col.Name] = "007"
			}
		}
		ds.Lists[sec.Name] = []core.Record{rec}
	}

	text, err := c.Encode(ds)
	require.NoError(t, err)
	got, err := c.Decode(text)
	require.NoError(t, err)

	for _, sec := range c.Registry().Sections() {
		if !sec.IsList() {
			continue
		}
		require.Len(t, got.Lists[sec.Name], 1, sec.Name)
		for _, col := range sec.Columns {
			if col.Type == schema.TypeOpaque {
				assert.Equal(t, "007", got.Lists[sec.Name][0][col.Name], sec.Name+"."+col.Name)
			}
		}
	}
}

func TestParseSections_HeaderInsideQuotedCell(t *testing.T) {
	c := newTestCodec()

	text := "[logEntries]\nid,date,remarks\nl1,2024-01-05,\"note\n[provinces]\nid,name\nx,Hacked\"\n\n[provinces]\nid,name\np1,Iloilo\n"
	blocks := c.ParseSections(text)

	assert.Equal(t, []string{"logEntries", "provinces"}, blocks.Names())
	body, _ := blocks.Get("provinces")
	assert.Equal(t, "id,name\np1,Iloilo", body)

	ds, err := c.Decode(text)
	require.NoError(t, err)
	require.Len(t, ds.Lists["logEntries"], 1)
	assert.Equal(t, "note\n[provinces]\nid,name\nx,Hacked", ds.Lists["logEntries"][0]["remarks"])
}

func TestParseSections_UnterminatedQuote(t *testing.T) {
	c := newTestCodec()

	// The stray quote never closes, so quote tracking is abandoned and the
	// sections after it are still found.
	text := "[customers]\nid,name\nc1,\"Ana\n\n[provinces]\nid,name\np1,Iloilo\n"
	blocks := c.ParseSections(text)

	assert.Equal(t, []string{"customers", "provinces"}, blocks.Names())
	body, _ := blocks.Get("provinces")
	assert.Equal(t, "id,name\np1,Iloilo", body)
}

func TestDecodeList_SkipsBlankRows(t *testing.T) {
	c := newTestCodec()

	ds, err := c.Decode("[provinces]\nid,name\np1,Iloilo\n,\n")
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"id": "p1", "name": "Iloilo"}}, ds.Lists["provinces"])

	sec, _ := c.Registry().Lookup("warehouses")
	recs := c.DecodeList(sec, "id,name,code,province,address\n,,,,\nw1,North,007,,\n  , ,\t,,\n")
	require.Len(t, recs, 1)
	assert.Equal(t, "w1", recs[0].ID())

	// Blank rows in a headerless section are skipped too.
	prov, _ := c.Registry().Lookup("provinces")
	assert.Empty(t, c.DecodeList(prov, ",\n,"))
}

func TestCoerceRecord_RejectsBooleansInNumericColumns(t *testing.T) {
	c := newTestCodec()
	logs, _ := c.Registry().Lookup("logEntries")
	enwf, _ := c.Registry().Lookup("enwfRanges")

	tests := []struct {
		name string
		sec  *schema.Section
		rec  core.Record
	}{
		{"currency", logs, core.Record{"grandTotal": true}},
		{"number", logs, core.Record{"bags": false}},
		{"auto", enwf, core.Record{"enwf": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CoerceRecord(tt.sec, tt.rec)
			assert.ErrorIs(t, err, core.ErrInvalidItem)
		})
	}

	out, err := c.CoerceRecord(logs, core.Record{"isLogged": true, "remarks": false})
	require.NoError(t, err)
	assert.Equal(t, true, out["isLogged"])
	assert.Equal(t, "false", out["remarks"])
}
