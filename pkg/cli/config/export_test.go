package config

import (
	"reflect"
	"time"

	"github.com/m-mizutani/gollem/llm/gemini"
)

func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{level: level, format: format, output: output}
}

func NewAuthForTest(jwtSecret, jwksURL, noAuthUID string) *Auth {
	return &Auth{jwtSecret: jwtSecret, jwksURL: jwksURL, noAuthUID: noAuthUID}
}

func NewCacheForTest(backend string, ttl time.Duration, maxEntries int, redisAddr string) *Cache {
	return &Cache{backend: backend, ttl: ttl, maxEntries: maxEntries, redisAddr: redisAddr}
}

func NewLLMForTest(provider, embeddingModel string) *LLM {
	return &LLM{provider: provider, embeddingModel: embeddingModel}
}

func NewRepositoryForTest(backend, projectID, postgresDSN string) *Repository {
	return &Repository{backend: backend, projectID: projectID, postgresDSN: postgresDSN}
}

func NewSourceForTest(notionToken string, notionDatabaseIDs []string, userID string, interval time.Duration) *Source {
	return &Source{notionToken: notionToken, notionDatabaseIDs: notionDatabaseIDs, userID: userID, interval: interval}
}

func NewGitHubSourceForTest(token string, repositories []string, userID string) *Source {
	return &Source{githubToken: token, githubRepositories: repositories, userID: userID, interval: time.Minute}
}

func NewPipelineForTest(path string, debug bool) *Pipeline {
	return &Pipeline{path: path, debug: debug}
}

func NewGeminiLLMForTest(embeddingModel, chatModel string) *LLM {
	return &LLM{provider: ProviderGemini, embeddingModel: embeddingModel, geminiModel: chatModel}
}

// GeminiModelsForTest applies the gemini options of x to a bare client and reads the
// resulting embedding and chat model names
func GeminiModelsForTest(x *LLM) (embeddingModel, chatModel string) {
	client := &gemini.Client{}
	for _, opt := range x.geminiOptions() {
		opt(client)
	}
	v := reflect.ValueOf(client).Elem()
	return v.FieldByName("embeddingModel").String(), v.FieldByName("defaultModel").String()
}
