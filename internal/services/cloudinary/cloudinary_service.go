package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/config"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

// ErrUploadDisabled Cloudinary не настроен
var ErrUploadDisabled = errors.New("загрузка изображений не настроена")

// CloudinaryService предоставляет методы для работы с Cloudinary
type CloudinaryService struct {
	cfg        config.CloudinaryConfig
	cld        *cloudinary.Cloudinary
	jwtService *utils.JWTService
	log        *zap.Logger
}

// NewCloudinaryService создает новый экземпляр CloudinaryService.
// Без CLOUDINARY_CLOUD_NAME серверная загрузка отключена, подпись параметров работает.
func NewCloudinaryService(cfg config.CloudinaryConfig, jwtService *utils.JWTService, log *zap.Logger) (*CloudinaryService, error) {
	s := &CloudinaryService{
		cfg:        cfg,
		jwtService: jwtService,
		log:        logger.OrNop(log).Named("cloudinary"),
	}
	if cfg.CloudName == "" {
		s.log.Warn("⚠️ CLOUDINARY_CLOUD_NAME не задан, загрузка изображений отключена")
		return s, nil
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Cloudinary: %w", err)
	}
	s.cld = cld
	return s, nil
}

// GenerateSignature создаёт подпись параметров загрузки
func (s *CloudinaryService) GenerateSignature(params map[string]string) (string, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return api.SignParameters(values, s.cfg.APISecret)
}

// UploadParams параметры прямой загрузки с клиента
func (s *CloudinaryService) UploadParams(folder string) (fiber.Map, error) {
	// Текущий timestamp
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	// Параметры для подписи
	params := map[string]string{
		"timestamp": timestamp,
		"folder":    folder,
	}
	if s.cfg.UploadPreset != "" {
		params["upload_preset"] = s.cfg.UploadPreset
	}

	signature, err := s.GenerateSignature(params)
	if err != nil {
		return nil, err
	}

	out := fiber.Map{
		"signature":  signature,
		"api_key":    s.cfg.APIKey,
		"cloud_name": s.cfg.CloudName,
	}
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}

// UploadImage загружает изображение и возвращает его HTTPS-ссылку
func (s *CloudinaryService) UploadImage(ctx context.Context, file io.Reader, folder string) (string, error) {
	if s.cld == nil {
		return "", errs.Transient("cloudinary.upload", ErrUploadDisabled)
	}

	resp, err := s.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:   s.folder(folder),
		PublicID: uuid.New().String(),
	})
	if err != nil {
		return "", errs.Transient("cloudinary.upload", err)
	}
	if resp.Error.Message != "" {
		return "", errs.Transient("cloudinary.upload", errors.New(resp.Error.Message))
	}

	s.log.Debug("Изображение загружено", zap.String("public_id", resp.PublicID))
	return resp.SecureURL, nil
}

func (s *CloudinaryService) folder(sub string) string {
	if sub == "" {
		return s.cfg.UploadFolder
	}
	return s.cfg.UploadFolder + "/" + sub
}

// GenerateUploadParams создаёт параметры для загрузки изображений объявления
func (s *CloudinaryService) GenerateUploadParams(c fiber.Ctx) error {
	// Генерируем ID для объявления, если не передан
	listingID := c.Query("listing_id")
	if listingID == "" {
		listingID = uuid.New().String()
	}

	params, err := s.UploadParams(s.folder("listings/" + listingID))
	if err != nil {
		s.log.Error("Ошибка подписи параметров загрузки", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка подписи параметров"})
	}
	params["listing_id"] = listingID

	// Возвращаем параметры
	return c.JSON(params)
}
