package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Scylla34/generous-givers/routes"
	"github.com/Scylla34/generous-givers/services"
	"github.com/Scylla34/generous-givers/utils"
	gzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

func main() {
	execDir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		log.Fatalf("Failed to get exec dir: %v", err)
	}

	// Load config from the working directory first, then next to the binary
	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		viper.SetConfigFile(filepath.Join(execDir, "config.yaml"))
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Failed to read config: %v", err)
		}
	}

	if err := utils.InitDatabase(
		viper.GetString("mysql.host"),
		viper.GetString("mysql.user"),
		viper.GetString("mysql.password"),
		viper.GetString("mysql.dbname"),
		viper.GetInt("mysql.port"),
	); err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Printf("Database connected successfully")
	utils.MigrateDatabase()

	mpesaConfig := services.MpesaConfig{
		ConsumerKey:    viper.GetString("mpesa.consumer_key"),
		ConsumerSecret: viper.GetString("mpesa.consumer_secret"),
		ShortCode:      viper.GetString("mpesa.short_code"),
		Passkey:        viper.GetString("mpesa.passkey"),
		CallbackURL:    viper.GetString("mpesa.callback_url"),
		BaseURL:        viper.GetString("mpesa.base_url"),
	}

	hub := services.NewHub()
	store := services.NewGormStore(utils.DB)
	mpesaService := services.NewMpesaService(mpesaConfig, store, hub)

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.SetTrustedProxies([]string{"127.0.0.1"})
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Security headers and CORS for the separate frontend
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")

		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	apiRoutes := routes.NewAPIRoutes(mpesaService, hub, mpesaConfig.ShortCode)
	apiRoutes.SetupRoutes(router)

	port := viper.GetInt("server.port")
	addr := fmt.Sprintf(":%d", port)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Server running on http://localhost%s", addr)
	log.Printf("Server mode: %s", gin.Mode())

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
