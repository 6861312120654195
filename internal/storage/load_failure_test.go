package storage_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/storage"
)

var errDisk = errors.New("input/output error")

// flakyBackend fails the next failLoads loads of existing documents.
type flakyBackend struct {
	storage.Backend

	mu        sync.Mutex
	failLoads int
}

func (b *flakyBackend) failNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLoads = n
}

func (b *flakyBackend) Load(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	fail := b.failLoads > 0
	if fail {
		b.failLoads--
	}
	b.mu.Unlock()
	if fail {
		return nil, errDisk
	}
	return b.Backend.Load(ctx, key)
}

var _ = Describe("Failing document loads", func() {
	var (
		ctx    context.Context
		root   string
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
		logger = slog.New(slog.NewTextHandler(GinkgoWriter, nil))
	})

	seedProgress := func(open func() storage.Backend, ids ...string) {
		store := storage.New(open(), logger)
		for _, id := range ids {
			_, err := store.UpsertProgress(ctx, id, domain.Good)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(store.Close(ctx)).To(Succeed())
	}

	progressIDs := func(open func() storage.Backend) []string {
		store := storage.New(open(), logger)
		defer store.Close(ctx)
		var ids []string
		for id := range store.ReadProgress(ctx).Progress {
			ids = append(ids, id)
		}
		return ids
	}

	Describe("the progress cache", func() {
		openFile := func() storage.Backend { return storage.NewFileBackend(root) }

		It("should not cache a progress document it failed to load", func() {
			seedProgress(openFile, "a", "b", "c")

			flaky := &flakyBackend{Backend: openFile()}
			store := storage.New(flaky, logger)
			flaky.failNext(1)

			Expect(store.ReadProgress(ctx).Progress).To(BeEmpty())
			Expect(store.ReadProgress(ctx).Progress).To(HaveLen(3))

			_, err := store.UpsertProgress(ctx, "d", domain.Good)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Close(ctx)).To(Succeed())

			Expect(progressIDs(openFile)).To(ConsistOf("a", "b", "c", "d"))
		})

		It("should refuse updates while the document cannot be loaded", func() {
			seedProgress(openFile, "a", "b", "c")

			flaky := &flakyBackend{Backend: openFile()}
			store := storage.New(flaky, logger)
			flaky.failNext(3)

			_, err := store.UpsertProgress(ctx, "d", domain.Good)
			Expect(err).To(MatchError(errDisk))
			Expect(store.DeleteProgress(ctx, "a")).To(MatchError(errDisk))
			Expect(store.ResetAllProgress(ctx)).To(MatchError(errDisk))
			Expect(store.Close(ctx)).To(Succeed())

			Expect(progressIDs(openFile)).To(ConsistOf("a", "b", "c"))
		})

		It("should load through a cancelled request context", func() {
			openSQL := func() storage.Backend {
				b, err := storage.OpenSQL(root)
				Expect(err).NotTo(HaveOccurred())
				return b
			}
			seedProgress(openSQL, "a", "b", "c")

			store := storage.New(openSQL(), logger)
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			Expect(store.ReadProgress(cancelled).Progress).To(HaveLen(3))

			_, err := store.UpsertProgress(ctx, "d", domain.Good)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Close(ctx)).To(Succeed())

			Expect(progressIDs(openSQL)).To(ConsistOf("a", "b", "c", "d"))
		})
	})

	Describe("write helpers", func() {
		var (
			flaky *flakyBackend
			store *storage.Store
		)

		BeforeEach(func() {
			flaky = &flakyBackend{Backend: storage.NewFileBackend(root)}
			store = storage.New(flaky, logger)
			Expect(store.AppendHighlight(ctx, "doc.pdf", testHighlight("h1", domain.FlashcardColor))).To(Succeed())
			Expect(store.AppendFlashcards(ctx, card("a"), card("b"))).To(Succeed())
			flaky.failNext(1000)
		})

		AfterEach(func() {
			Expect(store.Close(ctx)).To(Succeed())
		})

		It("should not write over documents they could not read", func() {
			Expect(store.AppendHighlight(ctx, "doc.pdf", testHighlight("h2", domain.Yellow))).To(MatchError(errDisk))
			_, err := store.MarkHighlightsGenerated(ctx, "doc.pdf", []string{"h1"})
			Expect(err).To(MatchError(errDisk))
			Expect(store.AppendFlashcards(ctx, card("c"))).To(MatchError(errDisk))
			Expect(store.UpdateFlashcard(ctx, "a", "q", "a")).To(MatchError(errDisk))
			Expect(store.DeleteFlashcard(ctx, "b")).To(MatchError(errDisk))

			flaky.failNext(0)
			highlights := store.ReadHighlights(ctx, "doc.pdf").Highlights
			Expect(highlights).To(HaveLen(1))
			Expect(highlights[0].FlashcardGenerated).To(BeFalse())

			cards := store.ReadFlashcards(ctx).Cards
			Expect(cards).To(HaveLen(2))
			Expect(cards[0].Question).To(Equal("Q a"))
		})

		It("should still return defaults to plain reads", func() {
			Expect(store.ReadHighlights(ctx, "doc.pdf").Highlights).To(BeEmpty())
			Expect(store.ReadFlashcards(ctx).Cards).To(BeEmpty())
		})
	})
})
