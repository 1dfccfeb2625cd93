// Package generation runs image-generation jobs against the backend.
//
// Form validates parameters and is the single submission path. Controller
// owns one job at a time: it emits Started, submits the job, then polls its
// status on a fixed interval and emits Progress, Completed, Failed or
// Cancelled. A new submission supersedes the previous one and cancellation is
// reflected locally before the backend acknowledges it. Orchestrator keeps
// the ordered image selection and folds controller events into a View for
// rendering.
package generation
