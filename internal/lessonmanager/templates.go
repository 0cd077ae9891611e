package lessonmanager

// Built-in lesson script templates. Author-facing conventions: hooks
// are plain functions handed to the registrars at load time, progress
// lives in state under "lesson_progress" (0..100), and scripts never
// emit "lesson_started" themselves since the runtime does that on
// start.

const templateBasic = `# Minimal lesson skeleton.

def start():
    log("info", "lesson starting")
    state.set("lesson_progress", 0)
    state.set("gestures_seen", 0)

def gesture(payload):
    seen = state.get("gestures_seen") + 1
    state.set("gestures_seen", seen)
    log("info", "gesture " + str(payload.get("gesture", "unknown")))

def tick():
    ticks = state.get("ticks")
    if ticks == None:
        ticks = 0
    state.set("ticks", ticks + 1)

def complete():
    log("info", "lesson finished after " + str(state.get("gestures_seen")) + " gestures")

on_start(start)
on_gesture(gesture)
on_tick(tick)
on_complete(complete)
`

const templateCountingFingers = `# Counting fingers: the learner shows one..five in any order.

TARGET_GESTURES = ["one", "two", "three", "four", "five"]
PROGRESS_PER_GESTURE = 100.0 / len(TARGET_GESTURES)

def start():
    log("info", "show me fingers from one to five")
    state.update({
        "lesson_progress": 0.0,
        "counted": [],
        "total_fingers": 0,
    })

def gesture(payload):
    name = payload.get("gesture", "")
    if name not in TARGET_GESTURES:
        log("debug", "ignoring gesture " + str(name))
        return

    counted = state.get("counted")
    if name in counted:
        log("info", name + " already counted")
        return

    fingers = payload.get("finger_count", TARGET_GESTURES.index(name) + 1)
    state.update({
        "counted": counted + [name],
        "total_fingers": state.get("total_fingers") + fingers,
    })

    progress = state.get("lesson_progress") + PROGRESS_PER_GESTURE
    state.set("lesson_progress", progress)
    log("info", "counted " + name + ", progress " + str(int(progress)) + "%")

    if progress >= 100.0:
        emit("lesson_completed", {"total_fingers": state.get("total_fingers")})
        log("info", "all five counted, well done")

def tick():
    remaining = len(TARGET_GESTURES) - len(state.get("counted"))
    if remaining > 0:
        state.set("remaining", remaining)

on_start(start)
on_gesture(gesture)
on_tick(tick)
`

const templateShapeStats = `# Shape statistics: tally drawn shapes and report side counts.

load("math", "math")

KNOWN_SHAPES = {"triangle": 3, "square": 4, "pentagon": 5, "hexagon": 6, "circle": 0}

def start():
    log("info", "draw shapes in the air")
    state.update({"lesson_progress": 0, "counts": {}, "sides": []})

def gesture(payload):
    shape = payload.get("shape", "")
    if shape not in KNOWN_SHAPES:
        emit("unknown_shape", {"shape": shape})
        return

    counts = dict(state.get("counts"))
    counts[shape] = counts.get(shape, 0) + 1
    sides = state.get("sides") + [KNOWN_SHAPES[shape]]
    state.update({"counts": counts, "sides": sides})

    total = 0
    for n in sides:
        total += n
    state.update({
        "shapes_drawn": len(sides),
        "avg_sides": math.floor(total / len(sides)),
        "max_sides": max(sides),
    })
    state.set("lesson_progress", min(len(sides) * 10, 100))
    log("info", "recorded " + shape)

def complete():
    emit("shape_report", {"counts": state.get("counts")})

on_start(start)
on_gesture(gesture)
on_complete(complete)
`

// Templates maps template names to lesson script sources.
var Templates = map[string]string{
	"basic":            templateBasic,
	"counting_fingers": templateCountingFingers,
	"shape_stats":      templateShapeStats,
}

// TemplateNames lists the available templates in a stable order.
func TemplateNames() []string {
	return []string{"basic", "counting_fingers", "shape_stats"}
}
