package worker

import "fmt"

// ProviderError is a transient ASR failure (network, rate limit). The queue
// retries it with backoff while attempts remain.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("asr provider: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// DownloadError is a timeout or transport failure fetching audio. The worker
// fails the job explicitly; the queue's own retry still applies at the next
// lease if attempts remain.
type DownloadError struct {
	Err error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("audio download: %v", e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }

// ValidationError is fatal: the job can never succeed, so it is not retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// retryable reports whether the queue should retry after this failure.
func retryable(err error) bool {
	switch err.(type) {
	case *ValidationError:
		return false
	default:
		return true
	}
}

// userMessage maps a pipeline error to the short message surfaced to the
// end user. Internal detail stays in the logs.
func userMessage(err error) string {
	switch err.(type) {
	case *ValidationError:
		return "O formato do áudio não é suportado."
	case *DownloadError:
		return "Não foi possível baixar o arquivo de áudio."
	case *ProviderError:
		return "O serviço de transcrição falhou. Tente novamente."
	default:
		return "Ocorreu um erro inesperado ao processar a transcrição."
	}
}
