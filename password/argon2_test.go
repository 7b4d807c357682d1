package password

import (
	"strings"
	"testing"
)

// fastConfig keeps the work factor at the floor so the suite stays quick.
func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	encoded, err := hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("hash %q not in PHC form", encoded)
	}

	ok, err := hasher.Verify("correct horse battery", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("correct password rejected")
	}

	ok, err = hasher.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("wrong password accepted")
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	first, err := hasher.Hash("same input")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := hasher.Hash("same input")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Error("two hashes of the same password are identical")
	}
}

func TestVerifyUsesEmbeddedParameters(t *testing.T) {
	producer, err := NewArgon2(Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	consumer, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	encoded, err := producer.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// A hasher with different configured parameters still verifies older
	// hashes: the PHC string carries its own work factor.
	ok, err := consumer.Verify("correct horse battery", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("hash with embedded parameters rejected")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	for _, encoded := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1,x=3$c2FsdA$aGFzaA",
	} {
		if _, err := hasher.Verify("pw", encoded); err == nil {
			t.Errorf("hash %q accepted", encoded)
		}
	}
}

func TestNewArgon2Floors(t *testing.T) {
	for name, cfg := range map[string]Config{
		"memory":      {Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		"time":        {Memory: 8 * 1024, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		"parallelism": {Memory: 8 * 1024, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 16},
		"salt":        {Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16},
		"key":         {Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	} {
		if _, err := NewArgon2(cfg); err == nil {
			t.Errorf("%s below floor accepted", name)
		}
	}
}
