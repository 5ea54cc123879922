package main

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writePlan(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "plan.yaml")
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	return path
}

var _ = Describe("run", func() {
	It("should run jobs of one queue in plan order", func() {
		plan := writePlan(`
jobs:
  - id: 1
    queue: app
    run: sleep 0.05; echo first
  - id: 2
    queue: app
    run: echo second
  - id: 3
    queue: other
    command: [echo, third]
`)
		output, err := executeCommand("run", plan)
		Expect(err).NotTo(HaveOccurred())

		first := strings.Index(output, "[1] first")
		second := strings.Index(output, "[2] second")
		Expect(first).To(BeNumerically(">=", 0))
		Expect(second).To(BeNumerically(">", first))
		Expect(output).To(ContainSubstring("[3] third"))
		Expect(output).To(ContainSubstring("1\tapp\tok"))
		Expect(output).To(ContainSubstring("2\tapp\tok"))
		Expect(output).To(ContainSubstring("3\tother\tok"))
	})

	It("should report failed jobs and keep going", func() {
		plan := writePlan(`
jobs:
  - id: 1
    run: exit 4
  - id: 2
    run: echo after
`)
		output, err := executeCommand("run", plan)
		Expect(err).To(MatchError(ContainSubstring("1 of 2 jobs")))
		Expect(output).To(ContainSubstring("1\tdefault\tfailed"))
		Expect(output).To(ContainSubstring("[2] after"))
	})

	It("should drop jobs when started with the switch off", func() {
		plan := writePlan(`
jobs:
  - id: 1
    run: echo never
`)
		output, err := executeCommand("run", "--start-disabled", plan)
		Expect(err).To(HaveOccurred())
		Expect(output).To(ContainSubstring("1\tdefault\tdropped"))
		Expect(output).NotTo(ContainSubstring("never"))
	})

	It("should reject an invalid plan", func() {
		plan := writePlan("jobs: [{id: -1, run: 'true'}]")
		_, err := executeCommand("run", plan)
		Expect(err).To(MatchError(ContainSubstring("id must be positive")))
	})
})

var _ = Describe("history", func() {
	It("should list the executions journaled by run", func() {
		journalDir := GinkgoT().TempDir()
		GinkgoT().Setenv("JOBQUEUE_JOURNAL_PATH", journalDir)

		plan := writePlan(`
jobs:
  - id: 5
    queue: db
    run: 'true'
  - id: 6
    queue: db
    run: 'true'
`)
		_, err := executeCommand("run", plan)
		Expect(err).NotTo(HaveOccurred())

		output, err := executeCommand("history")
		Expect(err).NotTo(HaveOccurred())
		Expect(output).To(ContainSubstring("5\tdb\tfinished"))
		Expect(output).To(ContainSubstring("6\tdb\tfinished"))
		Expect(output).To(ContainSubstring("total=2"))

		output, err = executeCommand("history", "6")
		Expect(err).NotTo(HaveOccurred())
		Expect(output).To(ContainSubstring("6\tdb\tfinished"))
		Expect(output).NotTo(ContainSubstring("5\tdb"))
	})

	It("should require a journal", func() {
		_, err := executeCommand("history")
		Expect(err).To(MatchError(ContainSubstring("no journal")))
	})

	It("should fail on a missing journal directory", func() {
		missing := filepath.Join(GinkgoT().TempDir(), "typo")
		_, err := executeCommand("history", "--journal", missing)
		Expect(err).To(MatchError(ContainSubstring("journal " + missing)))

		_, statErr := os.Stat(missing)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("should reject a malformed ID", func() {
		_, err := executeCommand("history", "--journal", GinkgoT().TempDir(), "abc")
		Expect(err).To(MatchError(ContainSubstring("invalid execution ID")))
	})
})
