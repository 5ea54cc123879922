package jobqueue_test

import (
	"log/slog"
	"os"
	"time"

	"github.com/VsevolodSauta/jobqueue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LoadConfig", func() {
	setEnv := func(key, value string) {
		previous, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				_ = os.Setenv(key, previous)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	BeforeEach(func() {
		for _, name := range []string{"TTL", "CLEANUP_INTERVAL", "JOURNAL_PATH", "JOURNAL_TIMEOUT", "START_ENABLED", "LOG_LEVEL"} {
			key := jobqueue.EnvPrefix + name
			if previous, had := os.LookupEnv(key); had {
				Expect(os.Unsetenv(key)).To(Succeed())
				DeferCleanup(os.Setenv, key, previous)
			}
		}
	})

	It("should use defaults when nothing is set", func() {
		cfg, err := jobqueue.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.JournalTTL).To(Equal(30 * 24 * time.Hour))
		Expect(cfg.CleanupInterval).To(Equal(24 * time.Hour))
		Expect(cfg.JournalPath).To(BeEmpty())
		Expect(cfg.JournalTimeout).To(Equal(5 * time.Second))
		Expect(cfg.StartEnabled).To(BeTrue())
		Expect(cfg.LogLevel).To(Equal(slog.LevelInfo))
	})

	It("should read integer durations as days", func() {
		setEnv("JOBQUEUE_TTL", "7")
		cfg, err := jobqueue.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.JournalTTL).To(Equal(7 * 24 * time.Hour))
	})

	It("should read duration strings", func() {
		setEnv("JOBQUEUE_CLEANUP_INTERVAL", "1h30m")
		setEnv("JOBQUEUE_JOURNAL_TIMEOUT", "250ms")
		cfg, err := jobqueue.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.CleanupInterval).To(Equal(90 * time.Minute))
		Expect(cfg.JournalTimeout).To(Equal(250 * time.Millisecond))
	})

	It("should read the remaining fields", func() {
		setEnv("JOBQUEUE_JOURNAL_PATH", "/var/lib/jobqueue")
		setEnv("JOBQUEUE_START_ENABLED", "false")
		setEnv("JOBQUEUE_LOG_LEVEL", "debug")
		cfg, err := jobqueue.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.JournalPath).To(Equal("/var/lib/jobqueue"))
		Expect(cfg.StartEnabled).To(BeFalse())
		Expect(cfg.LogLevel).To(Equal(slog.LevelDebug))
	})

	It("should reject malformed durations", func() {
		setEnv("JOBQUEUE_TTL", "soon")
		_, err := jobqueue.LoadConfig()
		Expect(err).To(HaveOccurred())
	})

	It("should reject a non-positive ttl", func() {
		setEnv("JOBQUEUE_TTL", "0")
		_, err := jobqueue.LoadConfig()
		Expect(err).To(MatchError(ContainSubstring("journal TTL")))
	})
})
