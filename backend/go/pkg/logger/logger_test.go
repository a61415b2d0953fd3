package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("loud"))
}

func TestLoggerWritesJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "rag_service", logrus.InfoLevel)

	log.Named("quota").WithErr(errors.New("boom")).WithPayload(map[string]interface{}{"credential": "key-1"}).Warn("credential disabled")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "credential disabled", line["message"])
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "quota", line["component"])
	assert.Equal(t, "rag_service", line["service_name"])
	assert.Contains(t, line, "timestamp")

	errField, ok := line["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "boom", errField["message"])
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithOutput(&buf, "svc", logrus.InfoLevel)
	_ = base.WithField("doc_id", "d1")

	base.Info("plain")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "doc_id")
}
