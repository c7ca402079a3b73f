package fsw

// FSEvents watches the whole subtree natively.
const restartOnNewDirectory = false
