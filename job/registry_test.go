package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/taskq/job"
)

type emailInput struct {
	To      string `json:"to" msgpack:"to"`
	Subject string `json:"subject" msgpack:"subject"`
}

func TestRegisterDefinition_RoundTrip(t *testing.T) {
	for _, codec := range []job.Codec{job.JSONCodec{}, job.MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			var got emailInput
			def := job.NewDefinition("mail.send", func(_ context.Context, in emailInput) error {
				got = in
				return nil
			}, job.WithCodec(codec))

			reg := job.NewRegistry()
			if err := job.RegisterDefinition(reg, def); err != nil {
				t.Fatalf("register: %v", err)
			}

			entry, ok := reg.Lookup("mail.send")
			if !ok {
				t.Fatal("expected entry")
			}
			payload, err := entry.Encode(emailInput{To: "a@b.c", Subject: "hi"})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			v, err := entry.Decode(payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if err := entry.Handle(context.Background(), v); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if got.To != "a@b.c" || got.Subject != "hi" {
				t.Errorf("handler got %+v", got)
			}
		})
	}
}

func TestRegisterDefinition_Defaults(t *testing.T) {
	def := job.NewDefinition("report.build", func(context.Context, struct{}) error { return nil },
		job.WithQueue("reports"),
		job.WithMaxAttempts(7),
		job.WithTimeout(time.Minute),
	)
	reg := job.NewRegistry()
	if err := job.RegisterDefinition(reg, def); err != nil {
		t.Fatal(err)
	}
	entry, _ := reg.Lookup("report.build")
	if entry.Opts.Queue != "reports" {
		t.Errorf("queue = %q", entry.Opts.Queue)
	}
	if entry.Opts.MaxAttempts != 7 {
		t.Errorf("max attempts = %d", entry.Opts.MaxAttempts)
	}
	if entry.Opts.Timeout != time.Minute {
		t.Errorf("timeout = %v", entry.Opts.Timeout)
	}
	if entry.Opts.Backoff != job.DefaultBackoff {
		t.Errorf("backoff = %v, want default", entry.Opts.Backoff)
	}
}

func TestRegisterDefinition_LiteralGetsDefaults(t *testing.T) {
	reg := job.NewRegistry()
	def := &job.Definition[emailInput]{
		Kind:    "mail.send",
		Handler: func(context.Context, emailInput) error { return nil },
	}
	if err := job.RegisterDefinition(reg, def); err != nil {
		t.Fatal(err)
	}
	entry, _ := reg.Lookup("mail.send")
	if entry.Opts.MaxAttempts != job.DefaultMaxAttempts || entry.Opts.Timeout != job.DefaultTimeout {
		t.Errorf("budget = %d/%v, want package defaults", entry.Opts.MaxAttempts, entry.Opts.Timeout)
	}
	if entry.Opts.Queue != job.DefaultQueue || entry.Opts.Codec == nil {
		t.Errorf("opts = %+v", entry.Opts)
	}
}

func TestRegister_RawEntryGetsDefaults(t *testing.T) {
	reg := job.NewRegistry()
	err := reg.Register(&job.Entry{
		Kind:   "raw",
		Decode: func(b []byte) (any, error) { return b, nil },
		Handle: func(context.Context, any) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := reg.Lookup("raw")
	if entry.Opts.MaxAttempts < 1 || entry.Opts.Timeout <= 0 || entry.Encode == nil {
		t.Errorf("entry = %+v", entry.Opts)
	}
}

func TestRegistry_DuplicateKind(t *testing.T) {
	reg := job.NewRegistry()
	noop := func(context.Context, []byte) error { return nil }
	if err := job.RegisterRaw(reg, "dup", noop); err != nil {
		t.Fatal(err)
	}
	if err := job.RegisterRaw(reg, "dup", noop); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistry_DecodeFailure(t *testing.T) {
	reg := job.NewRegistry()
	def := job.NewDefinition("typed", func(context.Context, emailInput) error { return nil })
	if err := job.RegisterDefinition(reg, def); err != nil {
		t.Fatal(err)
	}
	entry, _ := reg.Lookup("typed")
	if _, err := entry.Decode([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRegisterRaw_PassesBytes(t *testing.T) {
	reg := job.NewRegistry()
	var got []byte
	err := job.RegisterRaw(reg, "raw", func(_ context.Context, p []byte) error {
		got = p
		return errors.New("fail")
	})
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := reg.Lookup("raw")
	payload, _ := entry.Encode("hello")
	v, _ := entry.Decode(payload)
	if err := entry.Handle(context.Background(), v); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if string(got) != "hello" {
		t.Errorf("payload = %q", got)
	}
}

func TestRegistry_Kinds(t *testing.T) {
	reg := job.NewRegistry()
	noop := func(context.Context, []byte) error { return nil }
	for _, k := range []string{"b", "a", "c"} {
		if err := job.RegisterRaw(reg, k, noop); err != nil {
			t.Fatal(err)
		}
	}
	kinds := reg.Kinds()
	if len(kinds) != 3 || kinds[0] != "a" || kinds[2] != "c" {
		t.Fatalf("kinds = %v", kinds)
	}
}
