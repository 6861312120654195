package storage_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/storage"
)

var fixedNow = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func testHighlight(id string, color domain.Color) domain.Highlight {
	return domain.NewHighlight(id, color, "some text", []domain.PageRects{
		{Page: 0, Rects: []domain.UnitRect{{X: 0.1, Y: 0.2, W: 0.3, H: 0.02}}},
	}, fixedNow)
}

func card(id string) domain.Flashcard {
	return domain.Flashcard{ID: id, SourcePath: "doc.pdf", HighlightIDs: []string{}, Question: "Q " + id, Answer: "A " + id, CreatedAt: fixedNow}
}

// storeContract runs the same behaviour against every backend.
func storeContract(newBackend func(root string) storage.Backend) {
	var (
		ctx    context.Context
		root   string
		store  *storage.Store
		logger *slog.Logger
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		root, err = os.MkdirTemp("", "knolmark-store-*")
		Expect(err).NotTo(HaveOccurred())
		root = filepath.Join(root, "nested", "root")
		logger = slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		store = storage.New(newBackend(root), logger, storage.WithClock(func() time.Time { return fixedNow }))
	})

	AfterEach(func() {
		Expect(store.Close(ctx)).To(Succeed())
		os.RemoveAll(filepath.Dir(filepath.Dir(root)))
	})

	Context("when nothing has been written", func() {
		It("should return typed defaults", func() {
			hf := store.ReadHighlights(ctx, "papers/a.pdf")
			Expect(hf.Version).To(Equal(1))
			Expect(hf.SourcePath).To(Equal("papers/a.pdf"))
			Expect(hf.Highlights).To(BeEmpty())
			Expect(hf.Highlights).NotTo(BeNil())

			ff := store.ReadFlashcards(ctx)
			Expect(ff.Version).To(Equal(1))
			Expect(ff.Cards).To(BeEmpty())

			pf := store.ReadProgress(ctx)
			Expect(pf.Version).To(Equal(1))
			Expect(pf.Progress).To(BeEmpty())
		})
	})

	Context("highlights", func() {
		It("should append and patch by id", func() {
			Expect(store.AppendHighlight(ctx, "a.pdf", testHighlight("h1", domain.Yellow))).To(Succeed())
			Expect(store.AppendHighlight(ctx, "a.pdf", testHighlight("h2", domain.FlashcardColor))).To(Succeed())

			patched := testHighlight("h1", domain.Green)
			patched.Text = "changed"
			Expect(store.AppendHighlight(ctx, "a.pdf", patched)).To(Succeed())

			hf := store.ReadHighlights(ctx, "a.pdf")
			Expect(hf.Highlights).To(HaveLen(2))
			Expect(hf.Highlights[0].ID).To(Equal("h1"))
			Expect(hf.Highlights[0].Text).To(Equal("changed"))
			Expect(hf.Highlights[0].Color).To(Equal(domain.Green))
			Expect(hf.Highlights[1].IsFlashcard).To(BeTrue())
		})

		It("should keep documents of different sources apart", func() {
			Expect(store.AppendHighlight(ctx, "a.pdf", testHighlight("h1", domain.Yellow))).To(Succeed())
			Expect(store.ReadHighlights(ctx, "b.pdf").Highlights).To(BeEmpty())
		})

		It("should reject highlights without rectangles", func() {
			h := testHighlight("h1", domain.Blue)
			h.Pages = nil
			Expect(store.AppendHighlight(ctx, "a.pdf", h)).NotTo(Succeed())

			h.Pages = []domain.PageRects{{Page: 0}}
			Expect(store.AppendHighlight(ctx, "a.pdf", h)).NotTo(Succeed())

			Expect(store.ReadHighlights(ctx, "a.pdf").Highlights).To(BeEmpty())
		})

		It("should reject unknown colors", func() {
			Expect(store.AppendHighlight(ctx, "a.pdf", testHighlight("h1", domain.Color("red")))).NotTo(Succeed())
		})

		It("should mark only the named highlights as generated", func() {
			Expect(store.AppendHighlight(ctx, "a.pdf", testHighlight("h1", domain.FlashcardColor))).To(Succeed())
			Expect(store.AppendHighlight(ctx, "a.pdf", testHighlight("h2", domain.FlashcardColor))).To(Succeed())

			n, err := store.MarkHighlightsGenerated(ctx, "a.pdf", []string{"h2", "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			hf := store.ReadHighlights(ctx, "a.pdf")
			Expect(hf.Highlights[0].FlashcardGenerated).To(BeFalse())
			Expect(hf.Highlights[1].FlashcardGenerated).To(BeTrue())

			n, err = store.MarkHighlightsGenerated(ctx, "a.pdf", []string{"h2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
		})
	})

	Context("flashcards and progress", func() {
		BeforeEach(func() {
			Expect(store.AppendFlashcards(ctx, card("a"), card("b"), card("c"))).To(Succeed())
		})

		It("should append in order", func() {
			ff := store.ReadFlashcards(ctx)
			Expect(ff.Cards).To(HaveLen(3))
			Expect(ff.Cards[2].ID).To(Equal("c"))
		})

		It("should make progress visible immediately", func() {
			p, err := store.UpsertProgress(ctx, "a", domain.Good)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Streak).To(Equal(1))

			pf := store.ReadProgress(ctx)
			Expect(pf.Progress).To(HaveKey("a"))
			Expect(pf.Progress["a"].Done).To(BeTrue())
			Expect(pf.Progress["a"].NextDueAt.Equal(fixedNow.Add(24 * time.Hour))).To(BeTrue())

			p, err = store.UpsertProgress(ctx, "a", domain.Good)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Streak).To(Equal(2))
			Expect(p.IntervalDays).To(Equal(3))
		})

		It("should not let callers mutate the cache through a read", func() {
			_, err := store.UpsertProgress(ctx, "a", domain.Good)
			Expect(err).NotTo(HaveOccurred())
			pf := store.ReadProgress(ctx)
			delete(pf.Progress, "a")
			Expect(store.ReadProgress(ctx).Progress).To(HaveKey("a"))
		})

		It("should persist progress on flush", func() {
			_, err := store.UpsertProgress(ctx, "b", domain.Again)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.FlushProgress(ctx)).To(Succeed())

			reopened := storage.New(newBackend(root), logger)
			pf := reopened.ReadProgress(ctx)
			Expect(pf.Progress).To(HaveKey("b"))
			Expect(pf.Progress["b"].Done).To(BeFalse())
			Expect(reopened.Close(ctx)).To(Succeed())
		})

		It("should delete a card together with its progress", func() {
			_, err := store.UpsertProgress(ctx, "b", domain.Good)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.DeleteFlashcard(ctx, "b")).To(Succeed())
			Expect(store.ReadFlashcards(ctx).Cards).To(HaveLen(2))
			Expect(store.ReadProgress(ctx).Progress).NotTo(HaveKey("b"))
		})

		It("should report unknown cards", func() {
			Expect(store.DeleteFlashcard(ctx, "zzz")).To(MatchError(storage.ErrCardNotFound))
			Expect(store.UpdateFlashcard(ctx, "zzz", "q", "a")).To(MatchError(storage.ErrCardNotFound))
		})

		It("should prune progress of replaced cards and keep the rest unchanged", func() {
			_, err := store.UpsertProgress(ctx, "a", domain.Good)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.UpsertProgress(ctx, "c", domain.Again)
			Expect(err).NotTo(HaveOccurred())
			before := store.ReadProgress(ctx).Progress["a"]

			Expect(store.ReplaceAllFlashcards(ctx, []domain.Flashcard{card("a"), card("d")})).To(Succeed())

			pf := store.ReadProgress(ctx)
			Expect(pf.Progress).To(HaveLen(1))
			Expect(pf.Progress["a"]).To(Equal(before))
		})

		It("should edit question and answer only", func() {
			_, err := store.UpsertProgress(ctx, "a", domain.Good)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.UpdateFlashcard(ctx, "a", "new q", "new a")).To(Succeed())
			c := store.ReadFlashcards(ctx).Cards[0]
			Expect(c.Question).To(Equal("new q"))
			Expect(c.Answer).To(Equal("new a"))
			Expect(c.SourcePath).To(Equal("doc.pdf"))
			Expect(store.ReadProgress(ctx).Progress).To(HaveKey("a"))
		})

		It("should reset all progress", func() {
			_, err := store.UpsertProgress(ctx, "a", domain.Good)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.ResetAllProgress(ctx)).To(Succeed())
			Expect(store.ReadProgress(ctx).Progress).To(BeEmpty())
		})

		It("should refuse an empty card id", func() {
			_, err := store.UpsertProgress(ctx, "", domain.Good)
			Expect(err).To(HaveOccurred())
		})
	})
}

var _ = Describe("Store", func() {
	Describe("with the file backend", func() {
		storeContract(func(root string) storage.Backend {
			return storage.NewFileBackend(root)
		})
	})

	Describe("with the sqlite backend", func() {
		storeContract(func(root string) storage.Backend {
			b, err := storage.OpenSQL(root)
			Expect(err).NotTo(HaveOccurred())
			return b
		})
	})
})

var _ = Describe("Reading damaged documents", func() {
	var (
		ctx   context.Context
		root  string
		store *storage.Store
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		root, err = os.MkdirTemp("", "knolmark-corrupt-*")
		Expect(err).NotTo(HaveOccurred())
		store = storage.New(storage.NewFileBackend(root), slog.New(slog.NewTextHandler(GinkgoWriter, nil)))
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	write := func(key, body string) {
		path := filepath.Join(root, filepath.FromSlash(key))
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
	}

	It("should fall back to defaults for corrupt files of every kind", func() {
		write(storage.HighlightsKey("a.pdf"), "{not json")
		write(storage.FlashcardsKey, "[1, 2, 3]")
		write(storage.ProgressKey, `{"version": 1, "progress": {"x": {"streak": "lots"`)

		Expect(store.ReadHighlights(ctx, "a.pdf").Highlights).To(BeEmpty())
		Expect(store.ReadFlashcards(ctx).Cards).To(BeEmpty())
		Expect(store.ReadProgress(ctx).Progress).To(BeEmpty())
	})

	It("should merge legacy documents onto defaults", func() {
		write(storage.HighlightsKey("a.pdf"), `{"highlights": [{"id": "h1", "color": "flashcard", "text": "t"}]}`)
		write(storage.FlashcardsKey, `{"cards": [{"id": "c1", "question": "q", "answer": "a", "extra": true}]}`)
		write(storage.ProgressKey, `{"progress": {"c1": {"streak": -2, "intervalDays": 4}}}`)

		hf := store.ReadHighlights(ctx, "a.pdf")
		Expect(hf.Version).To(Equal(1))
		Expect(hf.SourcePath).To(Equal("a.pdf"))
		Expect(hf.Highlights).To(HaveLen(1))
		Expect(hf.Highlights[0].IsFlashcard).To(BeTrue())
		Expect(hf.Highlights[0].Pages).To(BeEmpty())

		ff := store.ReadFlashcards(ctx)
		Expect(ff.Version).To(Equal(1))
		Expect(ff.Cards[0].HighlightIDs).To(BeEmpty())
		Expect(ff.Cards[0].HighlightIDs).NotTo(BeNil())

		pf := store.ReadProgress(ctx)
		Expect(pf.Version).To(Equal(1))
		Expect(pf.Progress["c1"].Streak).To(Equal(0))
		Expect(pf.Progress["c1"].IntervalDays).To(Equal(4))
	})

	It("should write atomically without leaving temp files", func() {
		Expect(store.AppendFlashcards(ctx, card("a"))).To(Succeed())
		entries, err := os.ReadDir(root)
		Expect(err).NotTo(HaveOccurred())
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		Expect(names).To(ConsistOf(storage.FlashcardsKey))

		data, err := os.ReadFile(filepath.Join(root, storage.FlashcardsKey))
		Expect(err).NotTo(HaveOccurred())
		var doc map[string]any
		Expect(json.Unmarshal(data, &doc)).To(Succeed())
		Expect(doc).To(HaveKeyWithValue("version", BeNumerically("==", 1)))
	})
})
