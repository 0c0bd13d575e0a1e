package effect

import (
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var digits = regexp.MustCompile(`[0-9]+`)

func TestApply_Deterministic(t *testing.T) {
	size := Size{Width: 4096, Height: 2304}
	for _, id := range All() {
		t.Run(string(id), func(t *testing.T) {
			first := id.Apply(125, size, 25)
			second := id.Apply(125, size, 25)
			assert.NotEmpty(t, first)
			assert.Equal(t, first, second)
		})
	}
}

func TestApply_FramesOnlyChangeDurationPortion(t *testing.T) {
	size := Size{Width: 1280, Height: 720}
	for _, id := range All() {
		t.Run(string(id), func(t *testing.T) {
			short := id.Apply(125, size, 25)
			long := id.Apply(250, size, 25)
			assert.NotEqual(t, short, long)

			// Same expression skeleton once numbers are masked out.
			assert.Equal(t,
				digits.ReplaceAllString(short, "#"),
				digits.ReplaceAllString(long, "#"))

			// Size and rate are untouched.
			assert.Contains(t, short, "s=1280x720:fps=25")
			assert.Contains(t, long, "s=1280x720:fps=25")
		})
	}
}

func TestApply_PureFamiliesEmbedFrameCount(t *testing.T) {
	size := Size{Width: 4096, Height: 2304}
	for _, id := range []ID{ZoomIn, ZoomOut, SlideLeft, SlideRight, SlideUp, SlideDown} {
		short := id.Apply(125, size, 25)
		long := id.Apply(250, size, 25)
		assert.Equal(t, long, strings.ReplaceAll(short, "125", "250"), id)
	}
}

func TestApply_Shapes(t *testing.T) {
	size := Size{Width: 640, Height: 360}

	tests := []struct {
		id       ID
		contains []string
	}{
		{ZoomIn, []string{"zoompan=", "min(zoom+0.0015,1.5)", "d=50"}},
		{ZoomOut, []string{"max(1.001,zoom-0.0015)"}},
		{SlideLeft, []string{"x='(iw-iw/zoom)*(1-on/50)'"}},
		{SlideRight, []string{"x='(iw-iw/zoom)*on/50'"}},
		{SlideUp, []string{"y='(ih-ih/zoom)*(1-on/50)'"}},
		{SlideDown, []string{"y='(ih-ih/zoom)*on/50'"}},
		{FadeIn, []string{"fade=t=in:s=0:n=25"}},
		{FadeOut, []string{"fade=t=out:s=25:n=25"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			got := tt.id.Apply(50, size, 25)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestApply_FadeShorterThanOneSecond(t *testing.T) {
	got := FadeOut.Apply(10, Size{Width: 64, Height: 64}, 25)
	assert.Contains(t, got, "fade=t=out:s=0:n=10")
}

func TestApply_UnknownID(t *testing.T) {
	assert.Empty(t, ID("spin").Apply(10, Size{Width: 64, Height: 64}, 25))
}

func TestParse(t *testing.T) {
	id, err := Parse("  Zoom_In ")
	require.NoError(t, err)
	assert.Equal(t, ZoomIn, id)

	_, err = Parse("spin")
	assert.True(t, errors.Is(err, ErrUnknownEffect))
}

func TestNewCatalog(t *testing.T) {
	t.Run("rejects empty", func(t *testing.T) {
		_, err := NewCatalog(nil)
		assert.ErrorIs(t, err, ErrEmptyCatalog)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := NewCatalog([]ID{ZoomIn, "spin"})
		assert.ErrorIs(t, err, ErrUnknownEffect)
	})

	t.Run("dedupes and normalizes", func(t *testing.T) {
		c, err := NewCatalog([]ID{"ZOOM_IN", ZoomIn, SlideUp})
		require.NoError(t, err)
		assert.Equal(t, []ID{ZoomIn, SlideUp}, c.Enabled())
	})
}

// fixedSource always returns the same index.
type fixedSource int

func (f fixedSource) IntN(int) int { return int(f) }

func TestCatalog_Pick(t *testing.T) {
	c, err := NewCatalog(Defaults())
	require.NoError(t, err)

	for i, want := range Defaults() {
		assert.Equal(t, want, c.Pick(fixedSource(i)))
	}
}

func TestCatalog_PickOnlyEnabled(t *testing.T) {
	c, err := NewCatalog([]ID{SlideLeft, FadeIn})
	require.NoError(t, err)

	src := rand.New(rand.NewPCG(1, 2))
	seen := map[ID]int{}
	for i := 0; i < 200; i++ {
		seen[c.Pick(src)]++
	}
	assert.Len(t, seen, 2)
	assert.Positive(t, seen[SlideLeft])
	assert.Positive(t, seen[FadeIn])
}

func TestCatalog_PickNilSource(t *testing.T) {
	c, err := NewCatalog([]ID{ZoomOut})
	require.NoError(t, err)
	assert.Equal(t, ZoomOut, c.Pick(nil))
}

func TestLocked_ConcurrentPicks(t *testing.T) {
	c, err := NewCatalog(Defaults())
	require.NoError(t, err)

	src := Locked(rand.New(rand.NewPCG(1, 2)))
	assert.Same(t, src, Locked(src))
	assert.Equal(t, GlobalSource(), Locked(GlobalSource()))

	var wg sync.WaitGroup
	picks := make([]ID, 64)
	for i := range picks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			picks[i] = c.Pick(src)
		}()
	}
	wg.Wait()

	for _, id := range picks {
		assert.Contains(t, Defaults(), id)
	}
}
