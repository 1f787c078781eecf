// Package mysql provides the MySQL database component.
//
// It is a production-ready MySQL client built on top of GORM with:
//
// - Connection pooling with configurable parameters
// - Health checking and monitoring
// - Context-aware operations
// - Configurable logging levels
//
// # Basic Usage
//
// Create a MySQL client with default options:
//
//	opts := NewOptions()
//	opts.Host = "localhost"
//	opts.Database = "chatbase"
//
//	client, err := New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Using with Context
//
// Create a client with timeout control:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//
//	client, err := NewWithContext(ctx, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Health Checking
//
// Basic health check:
//
//	if err := client.Ping(context.Background()); err != nil {
//	    log.Printf("MySQL unhealthy: %v", err)
//	}
//
// Comprehensive health check with statistics:
//
//	status, stats := HealthWithStats(client, 5*time.Second)
//	if !status.Healthy {
//	    log.Printf("Health check failed: %v", status.Error)
//	} else {
//	    log.Printf("MySQL healthy (latency: %v)", status.Latency)
//	    log.Printf("Pool stats: %+v", stats)
//	}
//
// # Accessing GORM
//
// Get the underlying GORM DB for advanced operations:
//
//	db := client.DB()
//
//	db.AutoMigrate(&Document{})
//	db.Create(&Document{Filename: "intro.pdf"})
//
// # Thread Safety
//
// The MySQL client is safe for concurrent use by multiple goroutines.
// The underlying GORM and database/sql packages handle connection pooling
// and thread safety automatically.
package mysql
