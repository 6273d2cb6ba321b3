package db

import (
	"strings"
	"testing"

	"github.com/zulandar/concierge/internal/config"
	"github.com/zulandar/concierge/internal/models"
	"gorm.io/gorm"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		user     string
		password string
		database string
		want     string
	}{
		{
			name:     "default local",
			host:     "127.0.0.1",
			port:     3306,
			user:     "root",
			database: "concierge",
			want:     "root@tcp(127.0.0.1:3306)/concierge?parseTime=true",
		},
		{
			name:     "with password",
			host:     "10.0.0.5",
			port:     3307,
			user:     "app",
			password: "pw",
			database: "concierge_prod",
			want:     "app:pw@tcp(10.0.0.5:3307)/concierge_prod?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.host, tt.port, tt.user, tt.password, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_ParseTimeFlag(t *testing.T) {
	dsn := DSN("localhost", 3306, "root", "", "test")
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("DSN missing parseTime=true: %s", dsn)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err.Error())
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	db := openTestDB(t)
	for _, m := range AllModels() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestSeedWebsites(t *testing.T) {
	db := openTestDB(t)
	off := false
	th := 0.9
	sites := []config.WebsiteConfig{
		{ID: "shop", Name: "Shop", APIKey: "k1"},
		{ID: "blog", Name: "Blog", APIKey: "k2", AutoReply: &off,
			Knowledge: config.WebsiteKnowledgeSeed{Enabled: &off, Threshold: &th}},
	}
	if err := SeedWebsites(db, sites, 0.7); err != nil {
		t.Fatalf("SeedWebsites: %v", err)
	}

	var shop models.Website
	if err := db.First(&shop, "id = ?", "shop").Error; err != nil {
		t.Fatalf("load shop: %v", err)
	}
	if !shop.AutoReply {
		t.Error("shop.AutoReply = false, want true (default)")
	}

	var blogCfg models.KnowledgeConfig
	if err := db.First(&blogCfg, "website_id = ?", "blog").Error; err != nil {
		t.Fatalf("load blog config: %v", err)
	}
	if blogCfg.Enabled {
		t.Error("blog knowledge Enabled = true, want false")
	}
	if blogCfg.Threshold != 0.9 {
		t.Errorf("blog Threshold = %v, want 0.9", blogCfg.Threshold)
	}

	var shopCfg models.KnowledgeConfig
	db.First(&shopCfg, "website_id = ?", "shop")
	if !shopCfg.Enabled || shopCfg.Threshold != 0.7 {
		t.Errorf("shop config = %+v, want enabled with 0.7", shopCfg)
	}
}

func TestSeedWebsites_Idempotent(t *testing.T) {
	db := openTestDB(t)
	sites := []config.WebsiteConfig{{ID: "shop", Name: "Shop", APIKey: "k1"}}
	if err := SeedWebsites(db, sites, 0.7); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	sites[0].Name = "Shop Renamed"
	sites[0].APIKey = "k2"
	if err := SeedWebsites(db, sites, 0.7); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var count int64
	db.Model(&models.Website{}).Count(&count)
	if count != 1 {
		t.Errorf("website count = %d, want 1", count)
	}
	var shop models.Website
	db.First(&shop, "id = ?", "shop")
	if shop.Name != "Shop Renamed" || shop.APIKey != "k2" {
		t.Errorf("shop = %+v, want updated name and key", shop)
	}
}
