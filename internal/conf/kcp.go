package conf

import (
	"crypto/sha1"
	"fmt"
	"slices"

	"github.com/xtaci/kcp-go/v5"
	"golang.org/x/crypto/pbkdf2"
)

const kcpSalt = "noadproxy-kcp"

// KCP holds configuration for the KCP transport and smux multiplexing used on
// the hop between two chained proxies.
type KCP struct {
	Mode         string `yaml:"mode"`
	NoDelay      int    `yaml:"nodelay"`
	Interval     int    `yaml:"interval"`
	Resend       int    `yaml:"resend"`
	NoCongestion int    `yaml:"nocongestion"`
	WDelay       bool   `yaml:"wdelay"`
	AckNoDelay   bool   `yaml:"acknodelay"`

	MTU    int `yaml:"mtu"`
	Rcvwnd int `yaml:"rcvwnd"`
	Sndwnd int `yaml:"sndwnd"`
	Dshard int `yaml:"dshard"`
	Pshard int `yaml:"pshard"`

	Block_ string `yaml:"block"`
	Key    string `yaml:"key"`

	Smuxbuf int `yaml:"smuxbuf"`

	Block kcp.BlockCrypt `yaml:"-"`
}

func (k *KCP) setDefaults() {
	if k.Mode == "" {
		k.Mode = "fast2"
	}
	if k.MTU == 0 {
		k.MTU = 1350
	}
	if k.Rcvwnd == 0 {
		k.Rcvwnd = 1024
	}
	if k.Sndwnd == 0 {
		k.Sndwnd = 1024
	}
	if k.Block_ == "" {
		k.Block_ = "aes"
	}
	if k.Smuxbuf == 0 {
		k.Smuxbuf = 4 * 1024 * 1024
	}
}

func (k *KCP) validate() []error {
	var errors []error

	validModes := []string{"normal", "fast", "fast2", "fast3", "manual"}
	if !slices.Contains(validModes, k.Mode) {
		errors = append(errors, fmt.Errorf("KCP mode must be one of: %v", validModes))
	}

	if k.MTU < 50 || k.MTU > 1500 {
		errors = append(errors, fmt.Errorf("KCP MTU must be between 50-1500 bytes"))
	}

	if k.Rcvwnd < 1 || k.Rcvwnd > 65535 {
		errors = append(errors, fmt.Errorf("KCP rcvwnd must be between 1-65535"))
	}
	if k.Sndwnd < 1 || k.Sndwnd > 65535 {
		errors = append(errors, fmt.Errorf("KCP sndwnd must be between 1-65535"))
	}
	if k.Dshard < 0 || k.Pshard < 0 {
		errors = append(errors, fmt.Errorf("KCP dshard/pshard must be >= 0"))
	}

	if !slices.Contains([]string{"none", "null"}, k.Block_) && len(k.Key) == 0 {
		errors = append(errors, fmt.Errorf("KCP encryption key is required"))
	}
	b, err := newBlock(k.Block_, k.Key)
	if err != nil {
		errors = append(errors, err)
	}
	k.Block = b

	if k.Smuxbuf < 1024 {
		errors = append(errors, fmt.Errorf("KCP smuxbuf must be >= 1024 bytes"))
	}

	return errors
}

func newBlock(name, key string) (kcp.BlockCrypt, error) {
	pass := pbkdf2.Key([]byte(key), []byte(kcpSalt), 4096, 32, sha1.New)

	var (
		b   kcp.BlockCrypt
		err error
	)
	switch name {
	case "aes":
		b, err = kcp.NewAESBlockCrypt(pass)
	case "aes-128":
		b, err = kcp.NewAESBlockCrypt(pass[:16])
	case "aes-192":
		b, err = kcp.NewAESBlockCrypt(pass[:24])
	case "salsa20":
		b, err = kcp.NewSalsa20BlockCrypt(pass)
	case "blowfish":
		b, err = kcp.NewBlowfishBlockCrypt(pass)
	case "twofish":
		b, err = kcp.NewTwofishBlockCrypt(pass)
	case "cast5":
		b, err = kcp.NewCast5BlockCrypt(pass[:16])
	case "3des":
		b, err = kcp.NewTripleDESBlockCrypt(pass[:24])
	case "tea":
		b, err = kcp.NewTEABlockCrypt(pass[:16])
	case "xtea":
		b, err = kcp.NewXTEABlockCrypt(pass[:16])
	case "xor":
		b, err = kcp.NewSimpleXORBlockCrypt(pass)
	case "sm4":
		b, err = kcp.NewSM4BlockCrypt(pass[:16])
	case "none", "null":
		b, err = kcp.NewNoneBlockCrypt(pass)
	default:
		return nil, fmt.Errorf("KCP encryption block must be one of: [aes aes-128 aes-192 salsa20 blowfish twofish cast5 3des tea xtea xor sm4 none null]")
	}
	if err != nil {
		return nil, fmt.Errorf("KCP %s block: %w", name, err)
	}
	return b, nil
}
