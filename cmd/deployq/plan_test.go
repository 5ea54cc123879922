package main

import (
	"os"
	"path/filepath"

	"github.com/VsevolodSauta/jobqueue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Plan", func() {
	It("should parse run and command jobs", func() {
		plan, err := ParsePlan([]byte(`
jobs:
  - id: 1
    queue: db
    run: echo migrate
  - id: 2
    command: [make, deploy]
    dir: ./web
    env: [STAGE=prod]
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Jobs).To(HaveLen(2))

		Expect(plan.Jobs[0].QueueKey()).To(Equal(jobqueue.QueueKey("db")))
		Expect(plan.Jobs[0].Argv()).To(Equal([]string{"sh", "-c", "echo migrate"}))
		Expect(plan.Jobs[0].Environ()).To(BeNil())

		Expect(plan.Jobs[1].QueueKey()).To(Equal(jobqueue.DefaultQueue))
		Expect(plan.Jobs[1].Argv()).To(Equal([]string{"make", "deploy"}))
		Expect(plan.Jobs[1].Dir).To(Equal("./web"))
		Expect(plan.Jobs[1].Environ()).To(ContainElement("STAGE=prod"))
	})

	DescribeTable("should reject invalid plans",
		func(payload, message string) {
			_, err := ParsePlan([]byte(payload))
			Expect(err).To(MatchError(ContainSubstring(message)))
		},
		Entry("empty payload", "  \n", "payload is empty"),
		Entry("malformed yaml", "jobs: [", "decode"),
		Entry("no jobs", "jobs: []", "no jobs"),
		Entry("non-positive id", "jobs: [{id: 0, run: 'true'}]", "id must be positive"),
		Entry("duplicate id", "jobs: [{id: 1, run: 'true'}, {id: 1, run: 'true'}]", "duplicate id 1"),
		Entry("neither run nor command", "jobs: [{id: 1}]", "exactly one of run and command"),
		Entry("both run and command", "jobs: [{id: 1, run: 'true', command: ['true']}]", "exactly one of run and command"),
	)

	It("should load a plan file and name it in errors", func() {
		dir := GinkgoT().TempDir()
		good := filepath.Join(dir, "good.yaml")
		Expect(os.WriteFile(good, []byte("jobs: [{id: 7, run: 'true'}]"), 0o644)).To(Succeed())
		plan, err := LoadPlanFile(good)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Jobs[0].ID).To(Equal(int64(7)))

		bad := filepath.Join(dir, "bad.yaml")
		Expect(os.WriteFile(bad, []byte("jobs: []"), 0o644)).To(Succeed())
		_, err = LoadPlanFile(bad)
		Expect(err).To(MatchError(ContainSubstring("bad.yaml")))

		_, err = LoadPlanFile(filepath.Join(dir, "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
