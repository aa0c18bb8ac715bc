// Package database 负责建立关系型数据库与 Redis 连接。
package database

import (
	"fmt"
	"time"

	"nutri-snap-go/internal/model"
	"nutri-snap-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenGorm 按 driver (postgres | mysql) 打开数据库连接并配置连接池。
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Infof("%s database connected successfully", driver)
	return db, nil
}

// AutoMigrate 创建或更新 file 与 food_nutrition 表，food_nutrition.upload_id 带级联删除外键。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.UploadFile{}, &model.NutritionItem{})
}

// Close 关闭底层连接池。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
