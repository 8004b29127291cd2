package csvio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/shoshin/internal/model"
)

type fakeHQStore struct {
	hqs    []model.Headquarters
	puts   int
	putErr error
}

func (f *fakeHQStore) ListHeadquarters() ([]model.Headquarters, error) { return f.hqs, nil }

func (f *fakeHQStore) PutHeadquarters(hqs ...model.Headquarters) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.hqs = append(f.hqs, hqs...)
	return nil
}

func TestParseHeadquarters(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []model.Headquarters
		wantErr error
	}{
		{
			name: "basic",
			in:   "code,name\nTKY,Tokyo\nOSK,Osaka\n",
			want: []model.Headquarters{{Code: "TKY", Name: "Tokyo"}, {Code: "OSK", Name: "Osaka"}},
		},
		{
			name: "bom and reordered quoted headers",
			in:   "\ufeff\"name\",\"code\"\n\"Tokyo\",\"TKY\"\n",
			want: []model.Headquarters{{Code: "TKY", Name: "Tokyo"}},
		},
		{
			name: "incomplete rows dropped",
			in:   "code,name,region\nTKY,,east\n,Osaka,west\nNGY, Nagoya ,central\nSHORT\n",
			want: []model.Headquarters{{Code: "NGY", Name: "Nagoya"}},
		},
		{
			name:    "missing name header",
			in:      "code,title\nTKY,Tokyo\n",
			wantErr: ErrMissingHeader,
		},
		{
			name:    "empty file",
			in:      "",
			wantErr: ErrMissingHeader,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeadquarters(strings.NewReader(tt.in))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportHeadquartersSkipsExistingCode(t *testing.T) {
	s := &fakeHQStore{hqs: []model.Headquarters{{Code: "TKY", Name: "Tokyo"}}}
	res, err := ImportHeadquarters(s, strings.NewReader("code,name\nTKY,Tokyo HQ\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.NoNewData())
	assert.Equal(t, 0, s.puts, "nothing written")
	assert.Equal(t, "Tokyo", s.hqs[0].Name, "existing record not updated")
}

func TestImportHeadquartersDedupesWithinFile(t *testing.T) {
	s := &fakeHQStore{}
	res, err := ImportHeadquarters(s, strings.NewReader("code,name\nOSK,Osaka\nOSK,Osaka 2\nNGY,Nagoya\n"))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Added: 2, Skipped: 1}, res)
	assert.False(t, res.NoNewData())
	assert.Equal(t, []model.Headquarters{{Code: "OSK", Name: "Osaka"}, {Code: "NGY", Name: "Nagoya"}}, s.hqs)
}

func TestImportHeadquartersStoreError(t *testing.T) {
	s := &fakeHQStore{putErr: errors.New("disk full")}
	_, err := ImportHeadquarters(s, strings.NewReader("code,name\nOSK,Osaka\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func sampleRows() []model.SubmissionRow {
	submitted := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	reviewed := submitted.Add(24 * time.Hour)
	hq, final := 82, 85
	return []model.SubmissionRow{
		{
			SubmissionID: "s1", ExamID: "e1", ExamTitle: "昇格試験",
			ExamineeID: "10000001", ExamineeName: "山田 太郎",
			Headquarters: "TKY", HeadquartersName: "Tokyo",
			Status: model.StatusCompleted, SubmittedAt: submitted,
			HQScore: &hq, HQReviewedAt: &reviewed,
			FinalScore: &final, FinalOutcome: model.OutcomePassed,
			LessonReview1: &model.LessonReview{Start: reviewed, End: reviewed.Add(time.Hour)},
		},
		{SubmissionID: "s2", ExamID: "e1", Status: model.StatusSubmitted, SubmittedAt: submitted},
	}
}

func TestWriteSubmissionsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSubmissionsCSV(&buf, sampleRows()))
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\ufeff"), "output starts with a BOM")

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\ufeff"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, SubmissionColumns, records[0])

	first := records[1]
	col := func(name string) string {
		for i, c := range SubmissionColumns {
			if c == name {
				return first[i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}
	assert.Equal(t, "山田 太郎", col("examinee_name"))
	assert.Equal(t, "82", col("hq_score"))
	assert.Equal(t, "", col("po_score"))
	assert.Equal(t, "85", col("final_score"))
	assert.Equal(t, "Passed", col("final_outcome"))
	assert.Equal(t, "2026-03-01T09:30:00Z", col("submitted_at"))
	assert.Equal(t, "2026-03-02T10:30:00Z", col("lesson_review_1_end"))
	assert.Equal(t, "", col("lesson_review_2_start"))
	assert.Equal(t, "false", col("result_communicated"))
}

func TestWriteSubmissionsJSON(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteSubmissionsJSON(&buf, sampleRows(), now))

	var doc model.SubmissionExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.Count)
	assert.True(t, doc.ExportedAt.Equal(now))
	assert.Equal(t, "s1", doc.Rows[0].SubmissionID)

	buf.Reset()
	require.NoError(t, WriteSubmissionsJSON(&buf, nil, now))
	assert.Contains(t, buf.String(), `"rows": []`)
}
