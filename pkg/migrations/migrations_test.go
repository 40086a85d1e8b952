package migrations_test

import (
	"context"
	"fmt"
	"os"
	"path"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/qiita/qiita-ware/internal/config"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/pkg/migrations"
	"gorm.io/gorm"
)

var _ = Describe("migrations", func() {
	It("fails when the migration folder does not exist", func() {
		err := migrations.MigrateStore(context.TODO(), nil, "some folder", nil)
		Expect(err).NotTo(BeNil())
	})

	It("fails when the migration folder is a file", func() {
		f, err := os.CreateTemp(GinkgoT().TempDir(), "migration")
		Expect(err).To(BeNil())
		Expect(f.Close()).To(Succeed())

		err = migrations.MigrateStore(context.TODO(), nil, f.Name(), nil)
		Expect(err).To(MatchError(ContainSubstring("is not a folder")))
	})

	Context("on postgres", Ordered, func() {
		var (
			s      store.Store
			gormdb *gorm.DB
		)

		BeforeAll(func() {
			cfg, err := config.New()
			Expect(err).To(BeNil())
			if cfg.Database.Type != "pgsql" {
				Skip("migrations run on postgres only")
			}
			db, err := store.InitDB(cfg)
			if err != nil {
				Skip(fmt.Sprintf("postgres is not reachable: %s", err))
			}
			s = store.NewStore(db)
			gormdb = db
		})

		AfterAll(func() {
			if s != nil {
				s.Close()
			}
		})

		It("creates the tables", func() {
			currentFolder, err := os.Getwd()
			Expect(err).To(BeNil())

			err = migrations.MigrateStore(context.TODO(), gormdb, path.Join(currentFolder, "sql"), nil)
			Expect(err).To(BeNil())

			tableExists := func(name string) bool {
				exists := false
				tx := gormdb.Raw(fmt.Sprintf("SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' and tablename = '%s');", name)).Scan(&exists)
				Expect(tx.Error).To(BeNil())

				return exists
			}

			for _, table := range []string{"analyses", "jobs", "notification_events", "notification_sequences"} {
				Expect(tableExists(table)).To(BeTrue())
			}
		})

		AfterEach(func() {
			if gormdb == nil {
				return
			}
			gormdb.Exec("DROP TABLE IF EXISTS jobs;")
			gormdb.Exec("DROP TABLE IF EXISTS analyses;")
			gormdb.Exec("DROP TABLE IF EXISTS notification_events;")
			gormdb.Exec("DROP TABLE IF EXISTS notification_sequences;")
			gormdb.Exec("DROP TABLE IF EXISTS goose_db_version;")
		})
	})
})
