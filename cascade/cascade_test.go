package cascade_test

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/testutil"
)

var frame = image.NewRGBA(image.Rect(0, 0, 224, 224))

func scored(label string, conf float64) *emotion.Response {
	return &emotion.Response{Dominant: label, Scores: map[string]float64{label: conf}}
}

func newCascade(t *testing.T, fast cascade.Classifier, fallbacks ...cascade.Classifier) *cascade.Cascade {
	t.Helper()
	policy := cascade.DefaultPolicy()
	policy.StageTimeout = 200 * time.Millisecond

	stages := make([]cascade.Stage, len(fallbacks))
	for i, fb := range fallbacks {
		stages[i] = cascade.Stage{Name: "fallback", Classifier: fb}
	}
	c, err := cascade.New(cascade.Stage{Name: "fast", Classifier: fast}, stages, policy)
	if err != nil {
		t.Fatalf("cascade.New: %v", err)
	}
	return c
}

func TestRun_Acceptance(t *testing.T) {
	tests := []struct {
		name       string
		fast       *testutil.MockClassifier
		fallbacks  []*testutil.MockClassifier
		wantLabel  emotion.Label
		wantConf   float64
		wantSource cascade.Source
		wantTier   cascade.Tier
		wantCalls  []int
	}{
		{
			name:       "fast above threshold skips fallbacks",
			fast:       testutil.Returning(scored("happy", 0.50)),
			fallbacks:  []*testutil.MockClassifier{testutil.Returning(scored("sad", 0.99))},
			wantLabel:  emotion.Happy,
			wantConf:   0.50,
			wantSource: cascade.SourceFast,
			wantTier:   cascade.TierThreshold,
			wantCalls:  []int{0},
		},
		{
			name:       "fast between floor and threshold still accepted",
			fast:       testutil.Returning(scored("sad", 0.30)),
			fallbacks:  []*testutil.MockClassifier{testutil.Returning(scored("happy", 0.99))},
			wantLabel:  emotion.Sad,
			wantConf:   0.30,
			wantSource: cascade.SourceFast,
			wantTier:   cascade.TierFloor,
			wantCalls:  []int{0},
		},
		{
			name:       "fast floor is inclusive",
			fast:       testutil.Returning(scored("angry", 0.25)),
			fallbacks:  []*testutil.MockClassifier{testutil.Returning(scored("happy", 0.99))},
			wantLabel:  emotion.Angry,
			wantConf:   0.25,
			wantSource: cascade.SourceFast,
			wantTier:   cascade.TierFloor,
			wantCalls:  []int{0},
		},
		{
			name: "low fast escalates to first passing fallback",
			fast: testutil.Returning(scored("happy", 0.20)),
			fallbacks: []*testutil.MockClassifier{
				testutil.Returning(scored("fear", 0.26)),
				testutil.Returning(scored("sad", 0.99)),
			},
			wantLabel:  emotion.Fear,
			wantConf:   0.26,
			wantSource: cascade.SourceFallback,
			wantTier:   cascade.TierThreshold,
			wantCalls:  []int{1, 0},
		},
		{
			name: "fallback floor accepts low confidence",
			fast: testutil.Failing(errors.New("boom")),
			fallbacks: []*testutil.MockClassifier{
				testutil.Returning(scored("surprise", 0.16)),
			},
			wantLabel:  emotion.Surprise,
			wantConf:   0.16,
			wantSource: cascade.SourceFallback,
			wantTier:   cascade.TierFloor,
			wantCalls:  []int{1},
		},
		{
			name: "fallback floor is exclusive",
			fast: testutil.Returning(scored("happy", 0.10)),
			fallbacks: []*testutil.MockClassifier{
				testutil.Returning(scored("sad", 0.15)),
				testutil.Returning(scored("disgust", 40)),
			},
			wantLabel:  emotion.Disgust,
			wantConf:   0.40,
			wantSource: cascade.SourceFallback,
			wantTier:   cascade.TierThreshold,
			wantCalls:  []int{1, 1},
		},
		{
			name: "unknown vocabulary escalates",
			fast: testutil.Returning(scored("bored", 0.99)),
			fallbacks: []*testutil.MockClassifier{
				testutil.Returning(scored("Neutral", 0.7)),
			},
			wantLabel:  emotion.Neutral,
			wantConf:   0.7,
			wantSource: cascade.SourceFallback,
			wantTier:   cascade.TierThreshold,
			wantCalls:  []int{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fbs := make([]cascade.Classifier, len(tt.fallbacks))
			for i, fb := range tt.fallbacks {
				fbs[i] = fb
			}
			c := newCascade(t, tt.fast, fbs...)

			res, err := c.Run(context.Background(), frame, cascade.Options{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Accepted() {
				t.Fatalf("outcome = %s, want accepted", res.Outcome)
			}
			if res.Label != tt.wantLabel || res.Source != tt.wantSource || res.Tier != tt.wantTier {
				t.Errorf("got %s/%s/%s, want %s/%s/%s", res.Label, res.Source, res.Tier, tt.wantLabel, tt.wantSource, tt.wantTier)
			}
			if res.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", res.Confidence, tt.wantConf)
			}
			if tt.fast.Calls() != 1 {
				t.Errorf("fast calls = %d, want 1", tt.fast.Calls())
			}
			for i, fb := range tt.fallbacks {
				if fb.Calls() != tt.wantCalls[i] {
					t.Errorf("fallback %d calls = %d, want %d", i, fb.Calls(), tt.wantCalls[i])
				}
			}
		})
	}
}

func TestRun_ExhaustionDefault(t *testing.T) {
	fast := testutil.Failing(errors.New("model not loaded"))
	fb1 := testutil.Failing(errors.New("timeout"))
	fb2 := testutil.Failing(errors.New("oom"))
	c := newCascade(t, fast, fb1, fb2)

	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != cascade.OutcomeDefault {
		t.Fatalf("outcome = %s, want default", res.Outcome)
	}
	if res.Label != emotion.Neutral || emotion.ToPercent(res.Confidence) != 30 || res.Warning != cascade.WarnNoDetection {
		t.Errorf("got %s/%v/%s, want neutral/30/no_detection", res.Label, emotion.ToPercent(res.Confidence), res.Warning)
	}
	if res.Source != "" {
		t.Errorf("source = %q, want empty", res.Source)
	}
	if len(res.Trace) != 3 {
		t.Fatalf("trace length = %d, want 3", len(res.Trace))
	}
	for _, a := range res.Trace {
		if !errors.Is(a.Err, cascade.ErrCapability) {
			t.Errorf("attempt %s err = %v, want ErrCapability", a.Stage, a.Err)
		}
	}
}

func TestRun_BelowAllFloorsDefaults(t *testing.T) {
	c := newCascade(t, testutil.Returning(scored("happy", 0.1)), testutil.Returning(scored("sad", 0.05)))

	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != cascade.OutcomeDefault || res.Label != emotion.Neutral {
		t.Errorf("got %s/%s, want default/neutral", res.Outcome, res.Label)
	}
}

func TestRun_SmallFaceGuardWins(t *testing.T) {
	fast := testutil.Returning(&emotion.Response{
		Dominant: "happy",
		Scores:   map[string]float64{"happy": 99},
		Region:   &emotion.Region{X: 0, Y: 0, W: 40, H: 120},
	})
	fb := testutil.Returning(scored("sad", 0.9))
	c := newCascade(t, fast, fb)

	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Label != emotion.NoFace || res.Confidence != 0 || res.Warning != cascade.WarnSmallFace {
		t.Errorf("got %s/%v/%s, want no_face/0/small_face", res.Label, res.Confidence, res.Warning)
	}
	if res.Scores != nil {
		t.Errorf("scores = %v, want none", res.Scores)
	}
	if fb.Calls() != 0 {
		t.Errorf("fallback calls = %d, want 0", fb.Calls())
	}
}

func TestRun_SmallFaceBeforeTaxonomyCheck(t *testing.T) {
	fast := testutil.Returning(&emotion.Response{
		Dominant: "bored",
		Scores:   map[string]float64{"bored": 90},
		Region:   &emotion.Region{W: 40, H: 40},
	})
	fb := testutil.Returning(scored("happy", 0.9))
	c := newCascade(t, fast, fb)

	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != cascade.OutcomeNoFace || res.Warning != cascade.WarnSmallFace {
		t.Errorf("got %s/%s, want no_face/small_face", res.Outcome, res.Warning)
	}
	if fb.Calls() != 0 {
		t.Errorf("fallback calls = %d, want 0", fb.Calls())
	}
}

func TestRun_UnknownLabelRecordedInTrace(t *testing.T) {
	fast := testutil.Returning(scored("bored", 0.99))
	fb := testutil.Returning(scored("sad", 0.9))
	c := newCascade(t, fast, fb)

	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Label != emotion.Sad || res.Source != cascade.SourceFallback {
		t.Errorf("got %s/%s, want sad/fallback", res.Label, res.Source)
	}
	if len(res.Trace) != 2 || !errors.Is(res.Trace[0].Err, emotion.ErrUnusable) {
		t.Errorf("trace = %+v, want first attempt unusable", res.Trace)
	}
}

func TestRun_SmallFaceOnFallback(t *testing.T) {
	fast := testutil.Returning(scored("happy", 0.1))
	fb := testutil.Returning(&emotion.Response{
		Dominant: "sad",
		Scores:   map[string]float64{"sad": 0.9},
		Region:   &emotion.Region{W: 100, H: 30},
	})
	c := newCascade(t, fast, fb)

	res, _ := c.Run(context.Background(), frame, cascade.Options{})
	if res.Outcome != cascade.OutcomeNoFace {
		t.Errorf("outcome = %s, want no_face", res.Outcome)
	}
}

func TestRun_StageTimeoutEscalates(t *testing.T) {
	slow := &testutil.MockClassifier{
		ClassifyFunc: func(ctx context.Context, _ image.Image, _ cascade.Options) (*emotion.Response, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return scored("happy", 0.99), nil
			}
		},
	}
	fb := testutil.Returning(scored("sad", 0.5))
	c := newCascade(t, slow, fb)

	start := time.Now()
	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("stage timeout was not enforced")
	}
	if res.Label != emotion.Sad || res.Source != cascade.SourceFallback {
		t.Errorf("got %s/%s, want sad/fallback", res.Label, res.Source)
	}
	if !errors.Is(res.Trace[0].Err, cascade.ErrCapability) {
		t.Errorf("fast attempt err = %v", res.Trace[0].Err)
	}
}

func TestRun_IgnoringContextStillTimesOut(t *testing.T) {
	stuck := &testutil.MockClassifier{
		ClassifyFunc: func(context.Context, image.Image, cascade.Options) (*emotion.Response, error) {
			time.Sleep(time.Second)
			return scored("happy", 0.99), nil
		},
	}
	c := newCascade(t, stuck, testutil.Returning(scored("fear", 0.8)))

	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Label != emotion.Fear {
		t.Errorf("label = %s, want fear", res.Label)
	}
}

func TestRun_PanicIsFailure(t *testing.T) {
	boom := &testutil.MockClassifier{
		ClassifyFunc: func(context.Context, image.Image, cascade.Options) (*emotion.Response, error) {
			panic("native crash")
		},
	}
	c := newCascade(t, boom, testutil.Returning(scored("happy", 0.6)))

	res, err := c.Run(context.Background(), frame, cascade.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Label != emotion.Happy || res.Source != cascade.SourceFallback {
		t.Errorf("got %s/%s", res.Label, res.Source)
	}
}

func TestRun_CancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fast := &testutil.MockClassifier{
		ClassifyFunc: func(context.Context, image.Image, cascade.Options) (*emotion.Response, error) {
			cancel()
			return nil, errors.New("interrupted")
		},
	}
	fb := testutil.Returning(scored("happy", 0.9))
	c := newCascade(t, fast, fb)

	res, err := c.Run(ctx, frame, cascade.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	if fb.Calls() != 0 {
		t.Errorf("fallback calls = %d, want 0", fb.Calls())
	}
}

func TestRun_PassesOptions(t *testing.T) {
	fast := testutil.Returning(scored("happy", 0.9))
	c := newCascade(t, fast)

	if _, err := c.Run(context.Background(), frame, cascade.Options{DetectFace: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fast.LastOptions().DetectFace {
		t.Error("DetectFace option not forwarded")
	}
}

func TestRun_Timings(t *testing.T) {
	c := newCascade(t, testutil.Returning(scored("happy", 0.1)), testutil.Returning(scored("sad", 0.9)))
	res, _ := c.Run(context.Background(), frame, cascade.Options{})

	if _, ok := res.FastDuration(); !ok {
		t.Error("expected fast duration")
	}
	if _, ok := res.SlowDuration(); !ok {
		t.Error("expected slow duration")
	}
}

func TestNew_Validation(t *testing.T) {
	ok := testutil.Returning(scored("happy", 1))

	if _, err := cascade.New(cascade.Stage{Name: "fast"}, nil, cascade.DefaultPolicy()); err == nil {
		t.Error("expected error for missing fast classifier")
	}
	if _, err := cascade.New(cascade.Stage{Classifier: ok}, []cascade.Stage{{Name: "x"}}, cascade.DefaultPolicy()); err == nil {
		t.Error("expected error for missing fallback classifier")
	}

	bad := cascade.DefaultPolicy()
	bad.FastFloor = 0.9
	if _, err := cascade.New(cascade.Stage{Classifier: ok}, nil, bad); err == nil {
		t.Error("expected error for floor above threshold")
	}

	bad = cascade.DefaultPolicy()
	bad.DefaultLabel = emotion.NoFace
	if _, err := cascade.New(cascade.Stage{Classifier: ok}, nil, bad); err == nil {
		t.Error("expected error for non-emotion default label")
	}
}
