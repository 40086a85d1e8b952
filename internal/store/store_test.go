package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/qiita/qiita-ware/internal/config"
	st "github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/store/model"
)

func newAnalysis(owner, name string) model.Analysis {
	return model.Analysis{
		Owner:          owner,
		Name:           name,
		Status:         model.AnalysisStatusConstruction,
		Studies:        []string{"1"},
		MetadataFields: []string{"SAMPLE_TYPE"},
		DataTypes:      []string{"16S"},
	}
}

func newJobs(functions ...string) []model.Job {
	jobs := make([]model.Job, 0, len(functions))
	for i, fn := range functions {
		jobs = append(jobs, model.Job{
			DataType: "16S",
			Function: fn,
			Position: i,
			Status:   model.JobStatusQueued,
			Options:  model.JobOptions{"num_steps": float64(10)},
		})
	}
	return jobs
}

func storeBehaviour(newStore func() st.Store) {
	var (
		ctx   context.Context
		store st.Store
	)

	BeforeEach(func() {
		ctx = context.TODO()
		store = newStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Context("analysis", func() {
		It("creates an analysis with its jobs", func() {
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "first"), newJobs("alpha_diversity", "beta_diversity"))
			Expect(err).To(BeNil())
			Expect(created.ID).NotTo(Equal(uuid.Nil))
			Expect(created.Jobs).To(HaveLen(2))

			got, err := store.Analysis().Get(ctx, created.ID)
			Expect(err).To(BeNil())
			Expect(got.Owner).To(Equal("alice"))
			Expect(got.Studies).To(Equal([]string{"1"}))
			Expect(got.Jobs).To(HaveLen(2))
			Expect(got.Jobs[0].Function).To(Equal("alpha_diversity"))
			Expect(got.Jobs[1].Function).To(Equal("beta_diversity"))
			Expect(got.Jobs[0].AnalysisID).To(Equal(created.ID))
			Expect(got.Jobs[0].Options).To(HaveKeyWithValue("num_steps", float64(10)))

			exists, err := store.Analysis().Exists(ctx, "alice", "first")
			Expect(err).To(BeNil())
			Expect(exists).To(BeTrue())

			exists, err = store.Analysis().Exists(ctx, "bob", "first")
			Expect(err).To(BeNil())
			Expect(exists).To(BeFalse())
		})

		It("rejects a second analysis with the same owner and name", func() {
			_, err := store.Analysis().Create(ctx, newAnalysis("alice", "twice"), nil)
			Expect(err).To(BeNil())

			_, err = store.Analysis().Create(ctx, newAnalysis("alice", "twice"), nil)
			Expect(err).To(MatchError(st.ErrDuplicateKey))

			_, err = store.Analysis().Create(ctx, newAnalysis("bob", "twice"), nil)
			Expect(err).To(BeNil())
		})

		It("answers not found for unknown ids", func() {
			_, err := store.Analysis().Get(ctx, uuid.New())
			Expect(err).To(MatchError(st.ErrRecordNotFound))

			err = store.Analysis().Delete(ctx, uuid.New())
			Expect(err).To(MatchError(st.ErrRecordNotFound))

			err = store.Analysis().UpdateStatus(ctx, uuid.New(), model.AnalysisStatusConstruction, model.AnalysisStatusRunning)
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("filters and limits the list", func() {
			for _, name := range []string{"a", "b", "c"} {
				_, err := store.Analysis().Create(ctx, newAnalysis("alice", name), newJobs("alpha_diversity"))
				Expect(err).To(BeNil())
			}
			other, err := store.Analysis().Create(ctx, newAnalysis("bob", "a"), nil)
			Expect(err).To(BeNil())
			Expect(store.Analysis().UpdateStatus(ctx, other.ID, model.AnalysisStatusConstruction, model.AnalysisStatusRunning)).To(Succeed())

			analyses, err := store.Analysis().List(ctx, st.NewAnalysisQueryFilter().ByOwner("alice"), nil)
			Expect(err).To(BeNil())
			Expect(analyses).To(HaveLen(3))
			Expect(analyses[0].Jobs).To(BeEmpty())

			analyses, err = store.Analysis().List(ctx, st.NewAnalysisQueryFilter().ByOwner("alice").ByName("b"),
				st.NewAnalysisQueryOptions().WithJobsPreloaded())
			Expect(err).To(BeNil())
			Expect(analyses).To(HaveLen(1))
			Expect(analyses[0].Jobs).To(HaveLen(1))

			analyses, err = store.Analysis().List(ctx, st.NewAnalysisQueryFilter().ByStatus(model.AnalysisStatusRunning), nil)
			Expect(err).To(BeNil())
			Expect(analyses).To(HaveLen(1))
			Expect(analyses[0].Owner).To(Equal("bob"))

			analyses, err = store.Analysis().List(ctx, nil, st.NewAnalysisQueryOptions().WithLimit(2))
			Expect(err).To(BeNil())
			Expect(analyses).To(HaveLen(2))

			counts, err := store.Analysis().CountByStatus(ctx)
			Expect(err).To(BeNil())
			Expect(counts).To(HaveKeyWithValue(model.AnalysisStatusConstruction, int64(3)))
			Expect(counts).To(HaveKeyWithValue(model.AnalysisStatusRunning, int64(1)))
		})

		It("swaps the status only from the expected one", func() {
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "cas"), nil)
			Expect(err).To(BeNil())

			Expect(store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusConstruction, model.AnalysisStatusRunning)).To(Succeed())

			err = store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusConstruction, model.AnalysisStatusRunning)
			Expect(err).To(MatchError(st.ErrStatusConflict))

			err = store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusRunning, model.AnalysisStatusConstruction)
			Expect(err).To(MatchError(model.ErrInvalidTransition))

			Expect(store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusRunning, model.AnalysisStatusCompleted)).To(Succeed())
			Expect(store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusCompleted, model.AnalysisStatusLocked)).To(Succeed())

			err = store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusLocked, model.AnalysisStatusCompleted)
			Expect(err).To(MatchError(model.ErrAnalysisLocked))

			got, err := store.Analysis().Get(ctx, created.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.AnalysisStatusLocked))
			Expect(got.UpdatedAt).NotTo(BeNil())
		})

		It("lets exactly one of many concurrent swaps win", func() {
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "race"), nil)
			Expect(err).To(BeNil())
			Expect(store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusConstruction, model.AnalysisStatusRunning)).To(Succeed())

			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					if err := store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusRunning, model.AnalysisStatusCompleted); err == nil {
						wins.Add(1)
					} else {
						Expect(err).To(MatchError(st.ErrStatusConflict))
					}
				}()
			}
			wg.Wait()
			Expect(wins.Load()).To(Equal(int32(1)))
		})

		It("updates the inputs through the mutator", func() {
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "inputs"), nil)
			Expect(err).To(BeNil())

			updated, err := store.Analysis().Update(ctx, created.ID, func(a *model.Analysis) error {
				if err := a.Rename("renamed"); err != nil {
					return err
				}
				if err := a.AddStudies("2", "1"); err != nil {
					return err
				}
				return a.RemoveMetadataFields("SAMPLE_TYPE")
			})
			Expect(err).To(BeNil())
			Expect(updated.Name).To(Equal("renamed"))

			got, err := store.Analysis().Get(ctx, created.ID)
			Expect(err).To(BeNil())
			Expect(got.Name).To(Equal("renamed"))
			Expect(got.Studies).To(Equal([]string{"1", "2"}))
			Expect(got.MetadataFields).To(BeEmpty())
			Expect(got.Status).To(Equal(model.AnalysisStatusConstruction))
		})

		It("returns the jobs with the updated analysis", func() {
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "with-jobs"), newJobs("alpha_diversity", "beta_diversity"))
			Expect(err).To(BeNil())

			var seen int
			updated, err := store.Analysis().Update(ctx, created.ID, func(a *model.Analysis) error {
				seen = len(a.Jobs)
				return a.Rename("renamed-with-jobs")
			})
			Expect(err).To(BeNil())
			Expect(seen).To(Equal(2))
			Expect(updated.Jobs).To(HaveLen(2))
			Expect(updated.Jobs[0].Function).To(Equal("alpha_diversity"))
			Expect(updated.Jobs[1].Function).To(Equal("beta_diversity"))

			jobs, err := store.Job().List(ctx, st.NewJobQueryFilter().ByAnalysisID(created.ID))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(2))
		})

		It("refuses to update a locked analysis", func() {
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "locked"), nil)
			Expect(err).To(BeNil())
			Expect(store.Analysis().UpdateStatus(ctx, created.ID, model.AnalysisStatusConstruction, model.AnalysisStatusLocked)).To(Succeed())

			_, err = store.Analysis().Update(ctx, created.ID, func(a *model.Analysis) error {
				return a.Rename("nope")
			})
			Expect(err).To(MatchError(model.ErrAnalysisLocked))
		})

		It("refuses a rename onto an existing name", func() {
			_, err := store.Analysis().Create(ctx, newAnalysis("alice", "taken"), nil)
			Expect(err).To(BeNil())
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "free"), nil)
			Expect(err).To(BeNil())

			_, err = store.Analysis().Update(ctx, created.ID, func(a *model.Analysis) error {
				return a.Rename("taken")
			})
			Expect(err).To(MatchError(st.ErrDuplicateKey))
		})

		It("deletes the analysis with its jobs", func() {
			created, err := store.Analysis().Create(ctx, newAnalysis("alice", "gone"), newJobs("alpha_diversity"))
			Expect(err).To(BeNil())
			jobID := created.Jobs[0].ID

			Expect(store.Analysis().Delete(ctx, created.ID)).To(Succeed())

			_, err = store.Analysis().Get(ctx, created.ID)
			Expect(err).To(MatchError(st.ErrRecordNotFound))
			_, err = store.Job().Get(ctx, jobID)
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("job", func() {
		var analysis *model.Analysis

		BeforeEach(func() {
			var err error
			analysis, err = store.Analysis().Create(ctx, newAnalysis("alice", "jobs"), newJobs("alpha_diversity", "beta_diversity"))
			Expect(err).To(BeNil())
		})

		It("appends a job while under construction", func() {
			job, err := store.Job().Create(ctx, model.Job{
				AnalysisID: analysis.ID,
				DataType:   "18S",
				Function:   "alpha_diversity",
				Status:     model.JobStatusQueued,
			})
			Expect(err).To(BeNil())
			Expect(job.Position).To(Equal(2))

			jobs, err := store.Job().List(ctx, st.NewJobQueryFilter().ByAnalysisID(analysis.ID))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(3))
			Expect(jobs[2].ID).To(Equal(job.ID))
		})

		It("refuses new jobs once the analysis left construction", func() {
			Expect(store.Analysis().UpdateStatus(ctx, analysis.ID, model.AnalysisStatusConstruction, model.AnalysisStatusRunning)).To(Succeed())

			_, err := store.Job().Create(ctx, model.Job{AnalysisID: analysis.ID, DataType: "16S", Function: "procrustes", Status: model.JobStatusQueued})
			Expect(err).To(MatchError(st.ErrStatusConflict))

			_, err = store.Job().Create(ctx, model.Job{AnalysisID: uuid.New(), DataType: "16S", Function: "procrustes", Status: model.JobStatusQueued})
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("records results on done and the message on error", func() {
			done, errored := analysis.Jobs[0].ID, analysis.Jobs[1].ID

			_, err := store.Job().UpdateStatus(ctx, done, model.JobStatusRunning, nil, "")
			Expect(err).To(BeNil())
			job, err := store.Job().UpdateStatus(ctx, done, model.JobStatusDone, []string{"a.html", "b.html"}, "")
			Expect(err).To(BeNil())
			Expect(job.Results).To(Equal([]string{"a.html", "b.html"}))

			_, err = store.Job().UpdateStatus(ctx, errored, model.JobStatusRunning, nil, "")
			Expect(err).To(BeNil())
			_, err = store.Job().UpdateStatus(ctx, errored, model.JobStatusError, []string{"ignored"}, "boom")
			Expect(err).To(BeNil())

			jobs, err := store.Job().List(ctx, st.NewJobQueryFilter().ByAnalysisID(analysis.ID))
			Expect(err).To(BeNil())
			Expect(jobs[0].Status).To(Equal(model.JobStatusDone))
			Expect(jobs[0].Results).To(Equal([]string{"a.html", "b.html"}))
			Expect(jobs[0].ErrorMessage).To(BeNil())
			Expect(jobs[1].Status).To(Equal(model.JobStatusError))
			Expect(jobs[1].Results).To(BeEmpty())
			Expect(*jobs[1].ErrorMessage).To(Equal("boom"))
			Expect(model.JobList(jobs).AllTerminal()).To(BeTrue())

			errorJobs, err := store.Job().List(ctx, st.NewJobQueryFilter().ByAnalysisID(analysis.ID).ByStatus(model.JobStatusError))
			Expect(err).To(BeNil())
			Expect(errorJobs).To(HaveLen(1))
		})

		It("never leaves a terminal status", func() {
			id := analysis.Jobs[0].ID
			_, err := store.Job().UpdateStatus(ctx, id, model.JobStatusError, nil, "cancelled")
			Expect(err).To(BeNil())

			_, err = store.Job().UpdateStatus(ctx, id, model.JobStatusRunning, nil, "")
			Expect(err).To(MatchError(st.ErrStatusConflict))
			Expect(err).To(MatchError(model.ErrJobTerminal))

			_, err = store.Job().UpdateStatus(ctx, id, model.JobStatusDone, []string{"late"}, "")
			Expect(err).To(MatchError(st.ErrStatusConflict))

			job, err := store.Job().Get(ctx, id)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusError))
			Expect(*job.ErrorMessage).To(Equal("cancelled"))
		})

		It("refuses to skip running", func() {
			_, err := store.Job().UpdateStatus(ctx, analysis.Jobs[0].ID, model.JobStatusDone, nil, "")
			Expect(err).To(MatchError(model.ErrInvalidTransition))
		})

		It("stores the worker handle", func() {
			id := analysis.Jobs[0].ID
			Expect(store.Job().SetHandle(ctx, id, "42")).To(Succeed())

			job, err := store.Job().Get(ctx, id)
			Expect(err).To(BeNil())
			Expect(job.Handle).NotTo(BeNil())
			Expect(*job.Handle).To(Equal("42"))

			Expect(store.Job().SetHandle(ctx, uuid.New(), "43")).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("event", func() {
		appendEvent := func(recipient, analysisID string) *model.NotificationEvent {
			e, err := store.Event().Append(ctx, model.NotificationEvent{
				Recipient:  recipient,
				AnalysisID: analysisID,
				Kind:       "started",
				Payload:    `{"msg":"Running"}`,
			})
			Expect(err).To(BeNil())
			return e
		}

		It("numbers events per recipient", func() {
			Expect(appendEvent("alice", "a").Seq).To(Equal(uint64(1)))
			Expect(appendEvent("alice", "a").Seq).To(Equal(uint64(2)))
			Expect(appendEvent("bob", "b").Seq).To(Equal(uint64(1)))
			Expect(appendEvent("alice", "c").Seq).To(Equal(uint64(3)))

			events, err := store.Event().List(ctx, "alice", 1)
			Expect(err).To(BeNil())
			Expect(events).To(HaveLen(2))
			Expect(events[0].Seq).To(Equal(uint64(2)))
			Expect(events[1].Seq).To(Equal(uint64(3)))
			Expect(events[1].AnalysisID).To(Equal("c"))
		})

		It("deletes the events of one analysis and keeps counting", func() {
			appendEvent("alice", "a")
			appendEvent("alice", "b")
			appendEvent("alice", "a")

			removed, err := store.Event().DeleteByAnalysis(ctx, "alice", "a")
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(int64(2)))

			events, err := store.Event().List(ctx, "alice", 0)
			Expect(err).To(BeNil())
			Expect(events).To(HaveLen(1))
			Expect(events[0].AnalysisID).To(Equal("b"))

			Expect(appendEvent("alice", "a").Seq).To(Equal(uint64(4)))
		})

		It("does not notify outside postgres", func() {
			Expect(store.Event().Notify(ctx, "alice", "{}")).To(MatchError(st.ErrNotSupported))
		})
	})
}

var _ = Describe("Store", func() {
	Context("on sqlite", func() {
		storeBehaviour(func() st.Store {
			cfg := config.NewDefault()
			cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "qiita.db")

			db, err := st.InitDB(cfg)
			Expect(err).To(BeNil())

			s := st.NewStore(db)
			Expect(s.InitialMigration(context.TODO())).To(Succeed())
			return s
		})

		It("commits and rolls back transactions from the context", func() {
			cfg := config.NewDefault()
			cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "tx.db")
			db, err := st.InitDB(cfg)
			Expect(err).To(BeNil())
			s := st.NewStore(db)
			defer s.Close()
			Expect(s.InitialMigration(context.TODO())).To(Succeed())

			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			kept, err := s.Analysis().Create(ctx, newAnalysis("alice", "kept"), newJobs("alpha_diversity"))
			Expect(err).To(BeNil())
			_, err = st.Commit(ctx)
			Expect(err).To(BeNil())

			ctx, err = s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			dropped, err := s.Analysis().Create(ctx, newAnalysis("alice", "dropped"), nil)
			Expect(err).To(BeNil())
			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())

			_, err = s.Analysis().Get(context.TODO(), kept.ID)
			Expect(err).To(BeNil())
			_, err = s.Analysis().Get(context.TODO(), dropped.ID)
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("in memory", func() {
		storeBehaviour(func() st.Store {
			return st.NewMemoryStore()
		})
	})
})
