package jobqueue_test

import (
	"context"
	"os"
	"time"

	"github.com/VsevolodSauta/jobqueue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BadgerJournal", func() {
	JournalTestSuite(func() (jobqueue.Journal, func()) {
		tmpDir, err := os.MkdirTemp("", "jobqueue_badger_*")
		Expect(err).NotTo(HaveOccurred())

		journal, err := jobqueue.NewBadgerJournal(tmpDir, testLogger())
		Expect(err).NotTo(HaveOccurred())

		return journal, func() {
			_ = journal.Close()
			_ = os.RemoveAll(tmpDir)
		}
	})

	Describe("persistence", func() {
		It("should keep records across reopen", func() {
			tmpDir, err := os.MkdirTemp("", "jobqueue_badger_reopen_*")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = os.RemoveAll(tmpDir) }()

			ctx := context.Background()
			journal, err := jobqueue.NewBadgerJournal(tmpDir, testLogger())
			Expect(err).NotTo(HaveOccurred())
			Expect(journal.RecordTransition(ctx, jobqueue.Transition{
				ID: 7, Queue: "production", Status: jobqueue.ExecutionStatusFinished, Seq: 1, At: time.Now(),
			})).To(Succeed())
			Expect(journal.Close()).To(Succeed())

			reopened, err := jobqueue.NewBadgerJournal(tmpDir, testLogger())
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = reopened.Close() }()

			records, err := reopened.ListRecords(ctx, "production")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal(int64(7)))
			Expect(records[0].Status).To(Equal(jobqueue.ExecutionStatusFinished))
		})
	})

	Describe("as queue journal", func() {
		It("should record transitions of a running queue", func() {
			tmpDir, err := os.MkdirTemp("", "jobqueue_badger_queue_*")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = os.RemoveAll(tmpDir) }()

			journal, err := jobqueue.NewBadgerJournal(tmpDir, testLogger())
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = journal.Close() }()

			queue := jobqueue.NewJobQueue(jobqueue.NewStartSwitch(true), testLogger(), jobqueue.WithJournal(journal))
			job1 := newFakeExecution(1)
			job2 := newFakeExecution(2)
			Expect(queue.Enqueue(job1, jobqueue.WithQueue("deploy"))).To(Succeed())
			Expect(queue.Enqueue(job2, jobqueue.WithQueue("deploy"))).To(Succeed())
			job1.finish()
			Eventually(func() bool { return queue.IsActive(2) }).Should(BeTrue())
			job2.finish()
			Eventually(queue.Snapshot).Should(BeEmpty())

			Eventually(func() int32 {
				stats, err := journal.GetStats(context.Background(), []jobqueue.QueueKey{"deploy"})
				if err != nil {
					return -1
				}
				return stats.Finished
			}).Should(Equal(int32(2)))
		})
	})
})
