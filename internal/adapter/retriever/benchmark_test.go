package retriever

import (
	"context"
	"fmt"
	"testing"
)

// labelled corpus: each query has a known set of relevant documents
var qualityCorpus = []struct {
	id   string
	text string
}{
	{"brakes", "ブレーキパッドの摩耗限度は2mm。ブレーキ液はDOT4を使用する。"},
	{"wheels", "ホイールナットの締付トルクは110N・m。タイヤ空気圧は240kPa。"},
	{"engine", "エンジンオイルは5000kmごとに交換。エンジン停止後に油量を点検する。"},
	{"lights", "警告灯が点灯した場合は直ちに停車して点検する。"},
	{"battery", "バッテリー端子の腐食を点検する。"},
}

var qualityCases = []struct {
	query    string
	relevant []string
}{
	{"ブレーキ", []string{"brakes"}},
	{"締付トルク", []string{"wheels"}},
	{"エンジン", []string{"engine"}},
	{"警告灯", []string{"lights"}},
	{"点検", []string{"engine", "lights", "battery"}},
	{"タイヤ 空気圧", []string{"wheels"}},
}

func TestRetrievalQuality(t *testing.T) {
	f := newEngineFixture(t, 7)
	for _, doc := range qualityCorpus {
		f.addStored(t, doc.id, doc.text)
	}

	for _, tc := range qualityCases {
		t.Run(tc.query, func(t *testing.T) {
			results, err := f.engine.Search(context.Background(), tc.query)
			if err != nil {
				t.Fatal(err)
			}

			var retrieved []string
			seen := make(map[string]bool)
			for _, r := range results {
				if !seen[r.DocID] {
					seen[r.DocID] = true
					retrieved = append(retrieved, r.DocID)
				}
			}

			if p := precision(retrieved, tc.relevant); p != 1 {
				t.Errorf("precision = %.3f, retrieved %v", p, retrieved)
			}
			if r := recall(retrieved, tc.relevant); r != 1 {
				t.Errorf("recall = %.3f, retrieved %v", r, retrieved)
			}
			if rr := reciprocalRank(retrieved, tc.relevant[0]); rr != 1 {
				t.Errorf("expected %s ranked first, retrieved %v", tc.relevant[0], retrieved)
			}
		})
	}
}

func TestQualityMetrics(t *testing.T) {
	cases := []struct {
		name      string
		retrieved []string
		relevant  []string
		wantP     float64
		wantR     float64
	}{
		{"perfect", []string{"a", "b"}, []string{"a", "b"}, 1, 1},
		{"partial", []string{"a", "x"}, []string{"a", "b"}, 0.5, 0.5},
		{"none", []string{"x"}, []string{"a"}, 0, 0},
		{"empty", nil, []string{"a"}, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if p := precision(tc.retrieved, tc.relevant); p != tc.wantP {
				t.Errorf("precision = %.3f, want %.3f", p, tc.wantP)
			}
			if r := recall(tc.retrieved, tc.relevant); r != tc.wantR {
				t.Errorf("recall = %.3f, want %.3f", r, tc.wantR)
			}
		})
	}

	if rr := reciprocalRank([]string{"x", "a"}, "a"); rr != 0.5 {
		t.Errorf("reciprocal rank = %.3f, want 0.5", rr)
	}
}

func BenchmarkEngineSearch(b *testing.B) {
	f := newEngineFixture(b, 7)
	for i := 0; i < 200; i++ {
		doc := qualityCorpus[i%len(qualityCorpus)]
		f.addStored(b, fmt.Sprintf("%s-%03d", doc.id, i), doc.text, doc.text+"続き")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.engine.Search(context.Background(), "点検"); err != nil {
			b.Fatal(err)
		}
	}
}

func precision(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return float64(hits(retrieved, relevant)) / float64(len(retrieved))
}

func recall(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(hits(retrieved, relevant)) / float64(len(relevant))
}

func hits(retrieved, relevant []string) int {
	set := make(map[string]bool, len(relevant))
	for _, r := range relevant {
		set[r] = true
	}
	n := 0
	for _, r := range retrieved {
		if set[r] {
			n++
		}
	}
	return n
}

func reciprocalRank(retrieved []string, relevant string) float64 {
	for i, r := range retrieved {
		if r == relevant {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}
