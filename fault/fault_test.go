package fault

import (
	"errors"
	"fmt"
	"testing"

	extErrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("tier", "t_1")))
	assert.Equal(t, KindDatabase, KindOf(Database(errors.New("down"))))
	assert.Equal(t, KindExternal, KindOf(External("stripe", errors.New("timeout"))))
	assert.Equal(t, KindPartial, KindOf(Partial("create_tier", nil, "product_created", errors.New("boom"))))
	assert.Equal(t, Kind(""), KindOf(errors.New("foreign")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestValidationMessagesSurfaceVerbatim(t *testing.T) {
	err := Validation("name is required", "currency is required")
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "currency is required")
	assert.True(t, IsValidation(err))
}

func TestNotFoundNamesEntity(t *testing.T) {
	err := NotFound("addon product", "ap_42")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "addon product")
	assert.Contains(t, err.Error(), "ap_42")
}

func TestPartialRecordsProtocolPosition(t *testing.T) {
	cause := errors.New("connection reset")
	err := Partial("create_tier", []string{"product_created", "tier_row_inserted"}, "prices_created", cause)

	partial, ok := GetPartial(err)
	require.True(t, ok)
	assert.Equal(t, "create_tier", partial.Operation)
	assert.Equal(t, []string{"product_created", "tier_row_inserted"}, partial.CompletedSteps)
	assert.Equal(t, "prices_created", partial.FailedStep)
	assert.True(t, errors.Is(err, cause))
}

func TestPartialWithNoCompletedSteps(t *testing.T) {
	err := Partial("create_tier", nil, "product_created", errors.New("boom"))

	partial, ok := GetPartial(err)
	require.True(t, ok)
	require.NotNil(t, partial.CompletedSteps)
	assert.Len(t, partial.CompletedSteps, 0)
}

func TestGetPartialRejectsOtherKinds(t *testing.T) {
	_, ok := GetPartial(Database(errors.New("down")))
	assert.False(t, ok)
	_, ok = GetPartial(fmt.Errorf("foreign"))
	assert.False(t, ok)
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	assert.True(t, errors.Is(External("stripe", cause), cause))
	assert.True(t, errors.Is(Database(cause), cause))
}

func TestKindSurvivesWrapping(t *testing.T) {
	wrapped := extErrors.Wrap(NotFound("tier", "t_1"), "loading catalog")
	assert.True(t, IsNotFound(wrapped))

	wrapped = extErrors.Wrap(Partial("create_tier", nil, "product_created", errors.New("boom")), "provisioning")
	partial, ok := GetPartial(wrapped)
	require.True(t, ok)
	assert.Equal(t, "product_created", partial.FailedStep)
}
