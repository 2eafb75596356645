package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
	"gorm.io/gorm"
)

var (
	ErrKeyNotFound     = errors.New("vault: key not found")
	ErrCipherCorrupted = errors.New("vault: ciphertext corrupted")
)

// pbkdf2Iterations 密钥派生迭代次数
const pbkdf2Iterations = 4096

// KeyRecord 加密私钥记录
// 私钥永不明文落库；key_id 是对外的唯一引用，地址表只存 key_id
type KeyRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	KeyID      string `gorm:"column:key_id;type:varchar(64);uniqueIndex;not null" json:"key_id"`
	ChainCode  string `gorm:"column:chain_code;type:varchar(20);not null" json:"chain_code"`
	Address    string `gorm:"column:address;type:varchar(64);index;not null" json:"address"`
	Ciphertext string `gorm:"column:ciphertext;type:text;not null" json:"-"`
	CreatedAt  int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (KeyRecord) TableName() string {
	return "custody_vault_keys"
}

// KeyStore 私钥存取接口
type KeyStore interface {
	// Store 加密并保存私钥，返回 key_id
	Store(ctx context.Context, chainCode, address, privateKeyHex string) (string, error)
	// Get 按 key_id 取回明文私钥 hex
	Get(ctx context.Context, keyID string) (string, error)
}

// Vault 私钥保险库
// AES-256-CBC 加密，密钥由系统主密钥和 key_id 经 PBKDF2 派生，逐条独立
type Vault struct {
	db     *gorm.DB
	secret []byte
}

// New 创建私钥保险库
func New(db *gorm.DB, secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: master secret is required")
	}
	return &Vault{db: db, secret: []byte(secret)}, nil
}

// Store 加密并保存私钥，返回 key_id
func (v *Vault) Store(ctx context.Context, chainCode, address, privateKeyHex string) (string, error) {
	keyID := uuid.NewString()

	ciphertext, err := v.encrypt(keyID, []byte(privateKeyHex))
	if err != nil {
		return "", err
	}

	record := &KeyRecord{
		KeyID:      keyID,
		ChainCode:  chainCode,
		Address:    address,
		Ciphertext: hex.EncodeToString(ciphertext),
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := v.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", err
	}
	return keyID, nil
}

// Get 按 key_id 取出并解密私钥
func (v *Vault) Get(ctx context.Context, keyID string) (string, error) {
	var record KeyRecord
	err := v.db.WithContext(ctx).Where("key_id = ?", keyID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}

	ciphertext, err := hex.DecodeString(record.Ciphertext)
	if err != nil {
		return "", ErrCipherCorrupted
	}

	plaintext, err := v.decrypt(keyID, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// deriveKey 以 key_id 为盐派生 32 字节 AES 密钥
func (v *Vault) deriveKey(keyID string) []byte {
	return pbkdf2.Key(v.secret, []byte(keyID), pbkdf2Iterations, 32, sha256.New)
}

// encrypt AES-256-CBC 加密，返回 iv + 密文
func (v *Vault) encrypt(keyID string, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.deriveKey(keyID))
	if err != nil {
		return nil, err
	}

	plaintext = pkcs7Pad(plaintext, aes.BlockSize)

	ciphertext := make([]byte, aes.BlockSize+len(plaintext))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext[aes.BlockSize:], plaintext)
	return ciphertext, nil
}

// decrypt 解密 iv + 密文
func (v *Vault) decrypt(keyID string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCipherCorrupted
	}

	block, err := aes.NewCipher(v.deriveKey(keyID))
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	ciphertext = ciphertext[aes.BlockSize:]

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrCipherCorrupted
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, ErrCipherCorrupted
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrCipherCorrupted
		}
	}
	return data[:len(data)-padding], nil
}
