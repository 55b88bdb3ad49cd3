package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"harpans/site/internal/config"
	"harpans/site/internal/domain"
	"harpans/site/internal/storage"
)

// Store 关系型数据库存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

// Open 根据配置选择方言并连接数据库
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Type)
	}

	return NewStoreWithDialector(dialector, cfg)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, cfg config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// 所有写操作都是单条语句
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Store{db: db}, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Subscriber{},
		&domain.PublishNotificationMarker{},
		&domain.ContactSubmission{},
	)
}

// ========== Subscriber Repository ==========

// CreateSubscriber 新建订阅者
func (s *Store) CreateSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	return translateError(s.db.WithContext(ctx).Create(sub).Error)
}

// GetSubscriberByEmail 根据邮箱获取订阅者
func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	return s.firstSubscriber(ctx, "email = ?", email)
}

// GetSubscriberByToken 根据退订令牌获取订阅者
func (s *Store) GetSubscriberByToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	return s.firstSubscriber(ctx, "unsubscribe_token = ?", token)
}

func (s *Store) firstSubscriber(ctx context.Context, query string, arg string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	if err := s.db.WithContext(ctx).Where(query, arg).First(&sub).Error; err != nil {
		return nil, translateError(err)
	}
	return &sub, nil
}

// SetSubscriberActive 更新订阅状态
//
// 注意：MySQL 在值未变化时影响行数为 0，因此这里不以影响行数判断记录是否存在。
func (s *Store) SetSubscriberActive(ctx context.Context, id string, active bool) error {
	return s.db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

// ListActiveSubscribers 列出所有有效订阅者
func (s *Store) ListActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	var subs []domain.Subscriber
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&subs).Error
	return subs, err
}

// ListSubscribers 列出所有订阅者
func (s *Store) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	var subs []domain.Subscriber
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&subs).Error
	return subs, err
}

// ========== Marker Repository ==========

// MarkerExists 检查某内容是否已发送通知
func (s *Store) MarkerExists(ctx context.Context, postID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.PublishNotificationMarker{}).
		Where("post_id = ?", postID).
		Count(&count).Error
	return count > 0, err
}

// CreateMarker 写入通知标记，唯一索引冲突返回 storage.ErrDuplicate
func (s *Store) CreateMarker(ctx context.Context, marker *domain.PublishNotificationMarker) error {
	return translateError(s.db.WithContext(ctx).Create(marker).Error)
}

// ========== Submission Repository ==========

// SaveSubmission 保存联系表单提交
func (s *Store) SaveSubmission(ctx context.Context, sub *domain.ContactSubmission) error {
	return translateError(s.db.WithContext(ctx).Create(sub).Error)
}

// CountSubmissionsSince 统计某地址在窗口内的提交数
func (s *Store) CountSubmissionsSince(ctx context.Context, clientAddress string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.ContactSubmission{}).
		Where("client_address = ? AND submitted_at >= ?", clientAddress, since).
		Count(&count).Error
	return count, err
}

// ListSubmissions 按提交时间倒序列出
func (s *Store) ListSubmissions(ctx context.Context, limit int) ([]domain.ContactSubmission, error) {
	var subs []domain.ContactSubmission
	q := s.db.WithContext(ctx).Order("submitted_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&subs).Error
	return subs, err
}

// ========== 生命周期 ==========

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translateError 将驱动错误映射为 storage 包的哨兵错误
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrDuplicate
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrDuplicate
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return storage.ErrDuplicate
	}
	return err
}
