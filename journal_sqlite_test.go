//go:build sqlite
// +build sqlite

package jobqueue_test

import (
	"os"

	"github.com/VsevolodSauta/jobqueue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SQLiteJournal", func() {
	JournalTestSuite(func() (jobqueue.Journal, func()) {
		tmpFile, err := os.CreateTemp("", "jobqueue_sqlite_*.db")
		Expect(err).NotTo(HaveOccurred())
		_ = tmpFile.Close()

		journal, err := jobqueue.NewSQLiteJournal(tmpFile.Name())
		Expect(err).NotTo(HaveOccurred())

		return journal, func() {
			_ = journal.Close()
			_ = os.Remove(tmpFile.Name())
		}
	})
})
